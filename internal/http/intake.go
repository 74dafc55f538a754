package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/CRT-AUTO/message-gateway/internal/service/intake"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type intakeReq struct {
	UserID      int64  `json:"user_id"`
	Platform    string `json:"platform"` // "facebook" | "instagram"
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"` // unix ms of the original platform event
}

func enqueueHandler(intakeSvc *intake.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req intakeReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.SenderID = strings.TrimSpace(req.SenderID)
		req.RecipientID = strings.TrimSpace(req.RecipientID)

		if req.UserID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		}

		platform, ok := model.ParsePlatform(req.Platform)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid platform"})
		}

		var ts time.Time
		if req.Timestamp > 0 {
			ts = time.UnixMilli(req.Timestamp)
		}

		msg, err := intakeSvc.Enqueue(c.Request().Context(), model.Envelope{
			UserID:      req.UserID,
			Platform:    platform,
			SenderID:    req.SenderID,
			RecipientID: req.RecipientID,
			Content:     req.Content,
			Timestamp:   ts,
		})
		if err != nil {
			if errors.Is(err, intake.ErrEmptyContent) || errors.Is(err, intake.ErrMissingParty) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			log.Errorf("enqueue failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued": true,
			"id":       msg.ID,
			"platform": msg.Platform.String(),
			"status":   msg.Status.String(),
		})
	}
}
