package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/backoff"
	"github.com/CRT-AUTO/message-gateway/internal/classify"
	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"github.com/CRT-AUTO/message-gateway/internal/model"
	"go.uber.org/zap"
)

// Controller claims one message at a time, invokes the processor, and routes
// the outcome back into the store via the error classifier and backoff
// policy.
type Controller struct {
	store  Store
	policy backoff.Policy
	log    *zap.Logger
}

// NewController validates the policy up front; a bad policy is a
// construction-time failure, never a per-call branch.
func NewController(store Store, policy backoff.Policy, log *zap.Logger) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("pipeline: nil store")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{store: store, policy: policy, log: log}, nil
}

// ProcessOne runs a single claim/process/record cycle for the message.
//
// A lost claim (another runner won, retry budget gone, not yet eligible) is
// expected contention and returns a benign zero-success Outcome. Processor
// failures are classified and absorbed into the Outcome. Only store failures
// return a non-nil error; those fail the surrounding batch loudly.
func (c *Controller) ProcessOne(ctx context.Context, id string, fn ProcessorFunc) (Outcome, error) {
	out := Outcome{MessageID: id}

	claimed, err := c.store.Claim(ctx, id, c.policy.MaxRetries)
	if err != nil {
		return out, fmt.Errorf("claim %s: %w", id, err)
	}
	if !claimed {
		return out, nil
	}
	out.Claimed = true

	msg, err := c.store.Get(ctx, id)
	if err != nil {
		return out, fmt.Errorf("fetch claimed %s: %w", id, err)
	}
	if msg == nil {
		return out, fmt.Errorf("claimed message %s vanished", id)
	}

	if err := c.store.AppendEvent(ctx, startedEvent(id)); err != nil {
		return out, fmt.Errorf("log processing_started %s: %w", id, err)
	}

	start := time.Now()
	result, procErr := invoke(ctx, fn, *msg)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if procErr == nil {
		if err := c.store.Complete(ctx, id, result); err != nil {
			return out, fmt.Errorf("complete %s: %w", id, err)
		}
		metrics.MessagesTotal.WithLabelValues("completed", msg.Platform.String()).Inc()
		out.Success = true
		return out, nil
	}

	// This failed attempt is attempt number retry_count+1; the store bumps
	// the counter as part of the failure transition.
	attempt := msg.RetryCount + 1
	class := classify.Classify(procErr)
	out.Error = procErr.Error()
	out.Transient = class == classify.Transient

	if class == classify.Transient && attempt < c.policy.MaxRetries {
		next := time.Now().Add(c.policy.Delay(attempt))
		if err := c.store.RetryLater(ctx, id, procErr.Error(), next); err != nil {
			return out, fmt.Errorf("requeue %s: %w", id, err)
		}
		metrics.MessagesTotal.WithLabelValues("retried", msg.Platform.String()).Inc()
		c.log.Warn("message processing failed, will retry",
			zap.String("message_id", id),
			zap.Int("attempt", attempt),
			zap.Time("next_eligible_at", next),
			zap.Error(procErr),
		)
		return out, nil
	}

	reason := "permanent"
	if class == classify.Transient {
		reason = "exhausted"
	}
	if err := c.store.DeadLetter(ctx, msg, procErr.Error()); err != nil {
		return out, fmt.Errorf("dead-letter %s: %w", id, err)
	}
	metrics.MessagesTotal.WithLabelValues("dead_lettered", msg.Platform.String()).Inc()
	metrics.DeadLettersTotal.WithLabelValues(msg.Platform.String(), reason).Inc()
	c.log.Error("message dead-lettered",
		zap.String("message_id", id),
		zap.Int("attempt", attempt),
		zap.String("reason", reason),
		zap.Error(procErr),
	)
	return out, nil
}

func startedEvent(id string) model.ProcessingStatusEvent {
	return model.ProcessingStatusEvent{
		MessageID: id,
		Stage:     model.StageProcessingStarted,
		Status:    "pending",
	}
}

// invoke shields the pipeline from a panicking processor; a panic is just
// another classifiable failure.
func invoke(ctx context.Context, fn ProcessorFunc, msg model.QueuedMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}
