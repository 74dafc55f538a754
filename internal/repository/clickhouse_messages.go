package repository

import (
	"context"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// ReportMessage is the reporting projection of a queued message as it lands
// in the ClickHouse replica (populated by CDC, latest-row view).
type ReportMessage struct {
	ID         string    `db:"id"`
	UserID     int64     `db:"user_id"`
	Platform   string    `db:"platform"`
	SenderID   string    `db:"sender_id"`
	Status     string    `db:"status"`
	RetryCount int       `db:"retry_count"`
	ReceivedAt time.Time `db:"received_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// CHMessagesRepository lists queued messages from ClickHouse (final view).
type CHMessagesRepository interface {
	ListByUser(ctx context.Context, userID int64, platform model.Platform, status model.MessageStatus, limit, offset int) ([]ReportMessage, error)
}

type chMessagesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHMessagesRepository(ch *sqlx.DB) CHMessagesRepository {
	return &chMessagesRepository{ch: ch}
}

func (r *chMessagesRepository) ListByUser(ctx context.Context, userID int64, platform model.Platform, status model.MessageStatus, limit, offset int) ([]ReportMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, user_id, platform, sender_id, status, retry_count, received_at, created_at, updated_at
		FROM msggw.queued_messages_latest
		WHERE user_id = ?
	`
	args := []any{userID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if platform != "" {
		q += " AND platform = ?"
		args = append(args, platform.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []ReportMessage
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
