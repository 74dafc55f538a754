// Package intake turns validated canonical inbound events into durable queue
// rows. Signature verification and payload normalization happen upstream;
// by the time an Envelope reaches here it is trusted.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/CRT-AUTO/message-gateway/internal/util"
)

var (
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrEmptyContent    = errors.New("empty content")
	ErrMissingParty    = errors.New("missing sender or recipient id")
)

// Store is the durable write surface intake needs: the message row and its
// initial "received" event committed together.
type Store interface {
	Enqueue(ctx context.Context, m model.QueuedMessage) error
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Enqueue validates the envelope, assigns a ULID, and persists the pending
// message plus its "received" audit event in one transaction. The queue does
// not deduplicate by content; idempotency is the caller's concern.
func (s *Service) Enqueue(ctx context.Context, env model.Envelope) (*model.QueuedMessage, error) {
	if !env.Platform.Valid() {
		return nil, ErrInvalidPlatform
	}
	if env.Content == "" {
		return nil, ErrEmptyContent
	}
	if env.SenderID == "" || env.RecipientID == "" {
		return nil, ErrMissingParty
	}

	receivedAt := env.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	msg := model.QueuedMessage{
		ID:          util.New(),
		UserID:      env.UserID,
		Platform:    env.Platform,
		SenderID:    env.SenderID,
		RecipientID: env.RecipientID,
		Content:     env.Content,
		ReceivedAt:  receivedAt,
		Status:      model.StatusPending,
	}

	if err := s.store.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("enqueued", msg.Platform.String()).Inc()
	return &msg, nil
}
