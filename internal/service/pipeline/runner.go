package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"go.uber.org/zap"
)

// Runner is the scheduled entry point: each RunBatch pulls one bounded FIFO
// batch of eligible messages and drives the controller over it sequentially.
// Overlapping invocations are safe; the store's atomic claim arbitrates.
type Runner struct {
	controller *Controller
	store      Store
	batchSize  int
	log        *zap.Logger
}

const DefaultBatchSize = 25

func NewRunner(controller *Controller, store Store, batchSize int, log *zap.Logger) (*Runner, error) {
	if controller == nil {
		return nil, fmt.Errorf("pipeline: nil controller")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: nil store")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{controller: controller, store: store, batchSize: batchSize, log: log}, nil
}

// RunBatch processes up to batchSize eligible messages, oldest first. One
// message failing never aborts the batch: each ProcessOne carries its own
// outcome. A store error (queue unreachable) fails the whole invocation so
// the scheduler can alert and retry the run.
func (r *Runner) RunBatch(ctx context.Context, fn ProcessorFunc) (BatchResult, error) {
	var res BatchResult

	msgs, err := r.store.ListEligible(ctx, r.batchSize, r.controller.policy.MaxRetries)
	if err != nil {
		metrics.BatchRunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("list eligible: %w", err)
	}

	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		out, err := r.controller.ProcessOne(ctx, m.ID, fn)
		if err != nil {
			metrics.BatchRunsTotal.WithLabelValues("error").Inc()
			return res, err
		}
		if !out.Claimed {
			// Another runner got there first; expected under overlap.
			continue
		}
		res.ProcessedCount++
		res.Results = append(res.Results, out)
	}

	metrics.BatchRunsTotal.WithLabelValues("ok").Inc()
	if res.ProcessedCount > 0 {
		r.log.Info("batch processed",
			zap.Int("eligible", len(msgs)),
			zap.Int("processed", res.ProcessedCount),
		)
	}
	return res, nil
}

// Reclaim sweeps messages stuck in processing longer than olderThan back to
// pending, recovering from crashed invocations. Runs ahead of the batch in
// the worker loop.
func (r *Runner) Reclaim(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := r.store.ReclaimStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	if n > 0 {
		r.log.Warn("reclaimed stuck messages", zap.Int64("count", n))
	}
	return n, nil
}
