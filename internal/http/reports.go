package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/event-relay/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listEventsHandler(archive repository.ArchiveRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		aggregate := strings.TrimSpace(c.QueryParam("aggregate"))

		outcome := strings.TrimSpace(c.QueryParam("outcome"))
		if outcome != "" && outcome != "delivered" && outcome != "compensated" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid outcome"})
		}

		rows, err := archive.ListRecent(c.Request().Context(), aggregate, outcome, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
