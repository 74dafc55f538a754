package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/CRT-AUTO/message-gateway/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// getMessageHandler returns a queue row together with its status-log trail,
// the operator's view of one message's lifecycle.
func getMessageHandler(queue repository.QueueRepository, events repository.StatusLogRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing id"})
		}

		msg, err := queue.GetByID(c.Request().Context(), id)
		if err != nil {
			c.Logger().Errorf("get message failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if msg == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		evs, err := events.ListByMessage(c.Request().Context(), id)
		if err != nil {
			c.Logger().Errorf("list status events failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"message": msg,
			"events":  evs,
		})
	}
}

// listReportsHandler serves the ClickHouse-backed message report (CDC
// replica, read-only).
func listReportsHandler(chRepo repository.CHMessagesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
		if err != nil || userID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		}

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

		var st model.MessageStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.MessageStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		var platform model.Platform
		if raw := strings.TrimSpace(c.QueryParam("platform")); raw != "" {
			if p, ok := model.ParsePlatform(raw); ok {
				platform = p
			}
		}

		msgs, err := chRepo.ListByUser(c.Request().Context(), userID, platform, st, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}
