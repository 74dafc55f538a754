package repository

import (
	"context"
	"database/sql"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeadLetterRepository persists the dead_letters table. message_id carries a
// UNIQUE key, so Insert is idempotent: a message is dead-lettered at most
// once no matter how many times a crashed run replays the failure path.
type DeadLetterRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, e model.DeadLetterEntry) error
	GetByMessageID(ctx context.Context, messageID string) (*model.DeadLetterEntry, error)
	List(ctx context.Context, limit, offset int) ([]model.DeadLetterEntry, error)
	// MarkReplayed flips a live entry to replayed so the queue row becomes
	// claimable again. Returns false when the entry was not in failed state.
	MarkReplayed(ctx context.Context, tx *sqlx.Tx, messageID string) (bool, error)
}

type DeadLetterRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeadLetterRepository(db *sqlx.DB) *DeadLetterRepositoryImpl {
	return &DeadLetterRepositoryImpl{db: db}
}

var _ DeadLetterRepository = (*DeadLetterRepositoryImpl)(nil)

func (r *DeadLetterRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *DeadLetterRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.DeadLetterEntry) error {
	const q = `
		INSERT INTO dead_letters
		    (message_id, user_id, platform, message_content, error_message,
		     metadata, retry_count, status, failed_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, 'failed', NOW(6))
		ON DUPLICATE KEY UPDATE id = id
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.MessageID, e.UserID, e.Platform.String(), e.MessageContent,
			e.ErrorMessage, e.Metadata, e.RetryCount,
		)
		return err
	})
}

func (r *DeadLetterRepositoryImpl) GetByMessageID(ctx context.Context, messageID string) (*model.DeadLetterEntry, error) {
	var e model.DeadLetterEntry
	err := r.db.GetContext(ctx, &e, `
		SELECT id, message_id, user_id, platform, message_content, error_message,
		       metadata, retry_count, status, failed_at
		  FROM dead_letters
		 WHERE message_id = ? LIMIT 1
	`, messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *DeadLetterRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.DeadLetterEntry, error) {
	var entries []model.DeadLetterEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, message_id, user_id, platform, message_content, error_message,
		       metadata, retry_count, status, failed_at
		  FROM dead_letters
		 ORDER BY failed_at DESC
		 LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *DeadLetterRepositoryImpl) MarkReplayed(ctx context.Context, tx *sqlx.Tx, messageID string) (bool, error) {
	var replayed bool
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE dead_letters
			   SET status = 'replayed'
			 WHERE message_id = ? AND status = 'failed'
		`, messageID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		replayed = n == 1
		return nil
	})
	return replayed, err
}
