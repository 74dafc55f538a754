package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// PipelineStore composes the queue, status-log and dead-letter repositories
// behind the logical operations the pipeline needs. Every multi-table
// outcome (message transition + audit event + dead-letter row) commits in a
// single transaction, so a crashed invocation never leaves a half-written
// outcome behind.
type PipelineStore struct {
	db          *sqlx.DB
	queue       QueueRepository
	events      StatusLogRepository
	deadLetters DeadLetterRepository
}

func NewPipelineStore(db *sqlx.DB, queue QueueRepository, events StatusLogRepository, deadLetters DeadLetterRepository) *PipelineStore {
	return &PipelineStore{db: db, queue: queue, events: events, deadLetters: deadLetters}
}

func (s *PipelineStore) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Enqueue writes the pending message row and its initial "received" audit
// event in one transaction.
func (s *PipelineStore) Enqueue(ctx context.Context, m model.QueuedMessage) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.queue.InsertPending(ctx, tx, m); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, model.ProcessingStatusEvent{
			MessageID: m.ID,
			Stage:     model.StageReceived,
			Status:    "completed",
		})
	})
}

func (s *PipelineStore) Claim(ctx context.Context, id string, maxRetries int) (bool, error) {
	return s.queue.Claim(ctx, id, maxRetries)
}

func (s *PipelineStore) Get(ctx context.Context, id string) (*model.QueuedMessage, error) {
	return s.queue.GetByID(ctx, id)
}

func (s *PipelineStore) AppendEvent(ctx context.Context, ev model.ProcessingStatusEvent) error {
	return s.events.Append(ctx, nil, ev)
}

// Complete transitions the claimed message to completed and appends the
// response_sent event carrying the processor result.
func (s *PipelineStore) Complete(ctx context.Context, id, result string) error {
	meta, _ := json.Marshal(map[string]string{"result": result})
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.queue.MarkCompleted(ctx, tx, id); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, model.ProcessingStatusEvent{
			MessageID: id,
			Stage:     model.StageResponseSent,
			Status:    "completed",
			Metadata:  meta,
		})
	})
}

// RetryLater returns the claimed message to pending for a later batch pass,
// gated by nextEligibleAt, and records the failure in the audit log.
func (s *PipelineStore) RetryLater(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.queue.MarkPendingRetry(ctx, tx, id, errMsg, nextEligibleAt); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, model.ProcessingStatusEvent{
			MessageID: id,
			Stage:     model.StageProcessingFailed,
			Status:    "failed",
			Error:     &errMsg,
		})
	})
}

// DeadLetter terminally fails the claimed message: failed status, dead-letter
// row (idempotent on message_id) and audit event, one transaction.
func (s *PipelineStore) DeadLetter(ctx context.Context, m *model.QueuedMessage, errMsg string) error {
	meta, _ := json.Marshal(map[string]any{
		"sender_id":    m.SenderID,
		"recipient_id": m.RecipientID,
		"received_at":  m.ReceivedAt,
	})
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.queue.MarkFailed(ctx, tx, m.ID, errMsg); err != nil {
			return err
		}
		if err := s.deadLetters.Insert(ctx, tx, model.DeadLetterEntry{
			MessageID:      m.ID,
			UserID:         m.UserID,
			Platform:       m.Platform,
			MessageContent: m.Content,
			ErrorMessage:   errMsg,
			Metadata:       meta,
			// MarkFailed just counted this attempt; keep the copy in step.
			RetryCount: m.RetryCount + 1,
		}); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, model.ProcessingStatusEvent{
			MessageID: m.ID,
			Stage:     model.StageProcessingFailed,
			Status:    "failed",
			Error:     &errMsg,
		})
	})
}

func (s *PipelineStore) ListEligible(ctx context.Context, limit, maxRetries int) ([]model.QueuedMessage, error) {
	return s.queue.ListEligible(ctx, limit, maxRetries)
}

func (s *PipelineStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.queue.ReclaimStale(ctx, olderThan)
}

// Replay re-opens a dead-lettered message for manual redelivery: the entry
// flips to replayed and the queue row gets a fresh retry budget. Returns
// false when no live dead-letter entry existed.
func (s *PipelineStore) Replay(ctx context.Context, messageID string) (bool, error) {
	var replayed bool
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := s.deadLetters.MarkReplayed(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.queue.ResetForReplay(ctx, tx, messageID); err != nil {
			return err
		}
		replayed = true
		return s.events.Append(ctx, tx, model.ProcessingStatusEvent{
			MessageID: messageID,
			Stage:     "replayed",
			Status:    "pending",
		})
	})
	return replayed, err
}
