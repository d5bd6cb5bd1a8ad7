package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/event-relay/internal/notify"
	"github.com/jmehdipour/event-relay/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listNotificationsHandler(repo repository.NotificationsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		subject := strings.TrimSpace(c.QueryParam("subject_id"))
		if subject == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "subject_id is required"})
		}

		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := repo.ListBySubject(c.Request().Context(), subject, limit)
		if err != nil {
			c.Logger().Errorf("notifications list failed: subject=%s: %v", subject, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(rows),
			"results": rows,
		})
	}
}

func markReadHandler(sink *notify.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "id is required"})
		}

		if err := sink.MarkRead(c.Request().Context(), id); err != nil {
			c.Logger().Errorf("mark read failed: id=%s: %v", id, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{"id": id, "read": true})
	}
}
