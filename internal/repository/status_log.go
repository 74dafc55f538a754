package repository

import (
	"context"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// StatusLogRepository persists the append-only processing_status_events
// table. There is deliberately no update or delete: the log is an audit
// trail, never control-flow input.
type StatusLogRepository interface {
	// Append writes one event. If tx is nil, it opens/commits an internal
	// transaction; otherwise it uses the given tx.
	Append(ctx context.Context, tx *sqlx.Tx, ev model.ProcessingStatusEvent) error
	ListByMessage(ctx context.Context, messageID string) ([]model.ProcessingStatusEvent, error)
}

type StatusLogRepositoryImpl struct {
	db *sqlx.DB
}

func NewStatusLogRepository(db *sqlx.DB) *StatusLogRepositoryImpl {
	return &StatusLogRepositoryImpl{db: db}
}

var _ StatusLogRepository = (*StatusLogRepositoryImpl)(nil)

func (r *StatusLogRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *StatusLogRepositoryImpl) Append(ctx context.Context, tx *sqlx.Tx, ev model.ProcessingStatusEvent) error {
	const q = `
		INSERT INTO processing_status_events
		    (message_id, stage, status, error, metadata, timestamp)
		VALUES
		    (?, ?, ?, ?, ?, NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, ev.MessageID, ev.Stage, ev.Status, ev.Error, ev.Metadata)
		return err
	})
}

func (r *StatusLogRepositoryImpl) ListByMessage(ctx context.Context, messageID string) ([]model.ProcessingStatusEvent, error) {
	var evs []model.ProcessingStatusEvent
	err := r.db.SelectContext(ctx, &evs, `
		SELECT id, message_id, stage, status, error, metadata, timestamp
		  FROM processing_status_events
		 WHERE message_id = ?
		 ORDER BY id ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	return evs, nil
}
