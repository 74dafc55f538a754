package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// QueueRepository defines persistence for the queued_messages table.
// Mutations follow the pending → processing → completed|failed state machine;
// Claim is the only entry into processing and is a single conditional UPDATE
// so overlapping batch runs cannot both win the same message.
type QueueRepository interface {
	InsertPending(ctx context.Context, tx *sqlx.Tx, m model.QueuedMessage) error
	GetByID(ctx context.Context, id string) (*model.QueuedMessage, error)

	// Claim transitions pending|failed → processing and stamps last_retry_at,
	// iff retry budget remains, the message is eligible (next_eligible_at has
	// passed) and no live dead-letter row exists. Returns false when another
	// runner won or the row is ineligible.
	Claim(ctx context.Context, id string, maxRetries int) (bool, error)

	// MarkCompleted transitions processing → completed.
	MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string) error
	// MarkPendingRetry transitions processing → pending for a later pass,
	// counting the failed attempt and recording the error and the
	// backoff-derived eligibility time.
	MarkPendingRetry(ctx context.Context, tx *sqlx.Tx, id, errMsg string, nextEligibleAt time.Time) error
	// MarkFailed transitions processing → failed (terminal; the caller
	// dead-letters in the same transaction), counting the failed attempt.
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id, errMsg string) error

	// ListEligible returns up to limit messages the claim predicate would
	// accept, oldest first.
	ListEligible(ctx context.Context, limit, maxRetries int) ([]model.QueuedMessage, error)

	// ReclaimStale sweeps messages stuck in processing longer than olderThan
	// back to pending (crashed invocation recovery). retry_count is left
	// alone: a crashed runner is an infrastructure fault, not a processor
	// failure, so it is not charged against the retry budget.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// ResetForReplay re-opens a dead-lettered message with a fresh retry
	// budget. Only the manual replay path calls this.
	ResetForReplay(ctx context.Context, tx *sqlx.Tx, id string) error
}

type QueueRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepositoryImpl {
	return &QueueRepositoryImpl{db: db}
}

var _ QueueRepository = (*QueueRepositoryImpl)(nil)

func (r *QueueRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *QueueRepositoryImpl) InsertPending(ctx context.Context, tx *sqlx.Tx, m model.QueuedMessage) error {
	const q = `
		INSERT INTO queued_messages
		    (id, user_id, platform, sender_id, recipient_id, content, received_at,
		     status, retry_count, next_eligible_at, created_at, updated_at)
		VALUES
		    (?,  ?,       ?,        ?,         ?,            ?,       ?,
		     'pending', 0, NOW(6), NOW(6), NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.UserID, m.Platform.String(), m.SenderID, m.RecipientID, m.Content, m.ReceivedAt,
		)
		return err
	})
}

func (r *QueueRepositoryImpl) GetByID(ctx context.Context, id string) (*model.QueuedMessage, error) {
	var m model.QueuedMessage
	err := r.db.GetContext(ctx, &m, `
		SELECT id, user_id, platform, sender_id, recipient_id, content, received_at,
		       status, retry_count, last_retry_at, next_eligible_at,
		       created_at, updated_at, completed_at, error
		  FROM queued_messages
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Claim is a compare-and-swap on status: the WHERE clause carries the full
// eligibility predicate and rows-affected decides the winner. Two
// overlapping batch runs racing on the same row see exactly one success.
// retry_count is bumped when the attempt fails (MarkPendingRetry/MarkFailed),
// so it counts failed attempts.
func (r *QueueRepositoryImpl) Claim(ctx context.Context, id string, maxRetries int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_messages m
		   SET m.status = 'processing',
		       m.last_retry_at = NOW(6),
		       m.updated_at = NOW(6)
		 WHERE m.id = ?
		   AND m.status IN ('pending', 'failed')
		   AND m.retry_count < ?
		   AND m.next_eligible_at <= NOW(6)
		   AND NOT EXISTS (
		         SELECT 1 FROM dead_letters dl
		          WHERE dl.message_id = m.id AND dl.status = 'failed'
		       )
	`, id, maxRetries)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepositoryImpl) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'completed', completed_at = NOW(6), error = NULL, updated_at = NOW(6)
		 WHERE id = ? AND status = 'processing'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

func (r *QueueRepositoryImpl) MarkPendingRetry(ctx context.Context, tx *sqlx.Tx, id, errMsg string, nextEligibleAt time.Time) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'pending', retry_count = retry_count + 1,
		       error = ?, next_eligible_at = ?, updated_at = NOW(6)
		 WHERE id = ? AND status = 'processing'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, errMsg, nextEligibleAt, id)
		return err
	})
}

func (r *QueueRepositoryImpl) MarkFailed(ctx context.Context, tx *sqlx.Tx, id, errMsg string) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'failed', retry_count = retry_count + 1,
		       error = ?, updated_at = NOW(6)
		 WHERE id = ? AND status = 'processing'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, errMsg, id)
		return err
	})
}

func (r *QueueRepositoryImpl) ListEligible(ctx context.Context, limit, maxRetries int) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []model.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT m.id, m.user_id, m.platform, m.sender_id, m.recipient_id, m.content, m.received_at,
		       m.status, m.retry_count, m.last_retry_at, m.next_eligible_at,
		       m.created_at, m.updated_at, m.completed_at, m.error
		  FROM queued_messages m
		 WHERE m.status IN ('pending', 'failed')
		   AND m.retry_count < ?
		   AND m.next_eligible_at <= NOW(6)
		   AND NOT EXISTS (
		         SELECT 1 FROM dead_letters dl
		          WHERE dl.message_id = m.id AND dl.status = 'failed'
		       )
		 ORDER BY m.created_at ASC
		 LIMIT ?
	`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *QueueRepositoryImpl) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_messages
		   SET status = 'pending', updated_at = NOW(6)
		 WHERE status = 'processing'
		   AND last_retry_at < NOW(6) - INTERVAL ? SECOND
	`, int64(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueRepositoryImpl) ResetForReplay(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `
		UPDATE queued_messages
		   SET status = 'pending', retry_count = 0, error = NULL,
		       next_eligible_at = NOW(6), updated_at = NOW(6)
		 WHERE id = ? AND status = 'failed'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}
