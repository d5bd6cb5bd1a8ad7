package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/event-relay/internal/http/middleware"
	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/notify"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// receiveEventHandler is the peer-facing side of the relay transport: a
// trusted service POSTs one event here and local handlers turn it into
// notifications. Redelivery is harmless, the sink deduplicates on the
// origin triple.
func receiveEventHandler(reg *notify.Registry, sink notify.Sink) echo.HandlerFunc {
	return func(c echo.Context) error {
		var ev model.OutboxEvent
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ev.ID = strings.TrimSpace(ev.ID)
		ev.EventType = strings.TrimSpace(ev.EventType)
		ev.AggregateKey = strings.TrimSpace(ev.AggregateKey)
		if ev.ID == "" || ev.EventType == "" || ev.AggregateKey == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "id, event_type and aggregate_key are required"})
		}

		origin := middleware.OriginService(c)
		if origin == "" {
			origin = ev.Aggregate
		}

		intents, err := reg.Dispatch(c.Request().Context(), ev)
		if err != nil {
			log.Errorf("event dispatch failed: id=%s type=%s: %v", ev.ID, ev.EventType, err)
			// 5xx so the sending relay retries on its next tick
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "dispatch failed"})
		}

		created := 0
		for _, it := range intents {
			_, wasCreated, err := sink.CreateIfAbsent(c.Request().Context(), it.Subject, origin, ev.ID, it.Title, it.Body)
			if err != nil {
				log.Errorf("notification write failed: id=%s subject=%s: %v", ev.ID, it.Subject, err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			if wasCreated {
				created++
			}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"received":      true,
			"event_id":      ev.ID,
			"notifications": created,
		})
	}
}
