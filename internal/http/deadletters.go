package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/CRT-AUTO/message-gateway/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listDeadLettersHandler(dlRepo repository.DeadLetterRepository) echo.HandlerFunc {
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

		entries, err := dlRepo.List(c.Request().Context(), limit, offset)
		if err != nil {
			c.Logger().Errorf("dead letter list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(entries),
			"results": entries,
		})
	}
}

// replayDeadLetterHandler manually re-opens a dead-lettered message: the
// entry flips to replayed and the queue row re-enters pending with a fresh
// retry budget. Nothing ever replays automatically.
func replayDeadLetterHandler(store *repository.PipelineStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		messageID := strings.TrimSpace(c.Param("id"))
		if messageID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing id"})
		}

		replayed, err := store.Replay(c.Request().Context(), messageID)
		if err != nil {
			c.Logger().Errorf("dead letter replay failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !replayed {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no live dead letter for message"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"replayed":   true,
			"message_id": messageID,
		})
	}
}
