// Package pipeline implements the claim-and-process controller and the batch
// runner over the durable message queue. All cross-invocation coordination
// happens through the store's atomic conditional updates; the pipeline holds
// no in-memory locks and assumes overlapping runs.
package pipeline

import (
	"context"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
)

// ProcessorFunc is the externally supplied downstream operation (chatbot
// call, platform reply send). It must return an error the classifier can
// read (a classify.HTTPError or a recognizable message) and must tolerate
// being invoked more than once for the same message: the pipeline is
// at-least-once and owns all retry logic.
type ProcessorFunc func(ctx context.Context, msg model.QueuedMessage) (result string, err error)

// Store is the durable queue surface the pipeline drives. Claim must be a
// single atomic conditional write; Complete, RetryLater and DeadLetter must
// each commit their message transition and audit event together.
// *repository.PipelineStore is the production implementation.
type Store interface {
	Claim(ctx context.Context, id string, maxRetries int) (bool, error)
	Get(ctx context.Context, id string) (*model.QueuedMessage, error)
	AppendEvent(ctx context.Context, ev model.ProcessingStatusEvent) error
	Complete(ctx context.Context, id, result string) error
	RetryLater(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) error
	DeadLetter(ctx context.Context, m *model.QueuedMessage, errMsg string) error
	ListEligible(ctx context.Context, limit, maxRetries int) ([]model.QueuedMessage, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Outcome is the structured result of one ProcessOne call. Raw processor
// errors never leave the controller; they are classified, logged into the
// status log with full detail, and reduced to this shape.
type Outcome struct {
	MessageID string `json:"message_id"`
	Claimed   bool   `json:"claimed"`
	Success   bool   `json:"success"`
	Transient bool   `json:"transient,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult aggregates one RunBatch invocation.
type BatchResult struct {
	ProcessedCount int       `json:"processed_count"`
	Results        []Outcome `json:"results"`
}
