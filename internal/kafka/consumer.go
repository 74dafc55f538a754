// Package kafka carries the broker-based intake path: the upstream webhook
// tier publishes canonical envelopes to chat.inbound and this consumer
// enqueues them. At-least-once: offsets commit only after the enqueue
// succeeds, except for poison messages, which commit and skip.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const InboundTopic = "chat.inbound"

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s (0 = sync each msg)
	MaxWait        time.Duration // default 50ms
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	ci := c.CommitInterval
	if ci <= 0 {
		ci = time.Second
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: ci,
		MaxWait:        mw,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

// EnqueueFunc hands one decoded envelope to the intake service.
type EnqueueFunc func(ctx context.Context, env model.Envelope) error

// fetchCommitter is the reader surface the consume loop drives.
type fetchCommitter interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
}

// Run consumes envelopes until ctx is cancelled. Undecodable payloads are
// committed and skipped. An enqueue failure blocks on the same message,
// retrying until the store recovers or ctx is cancelled: fetching past an
// unstored envelope would let a later message's commit advance the group
// offset over it, losing it across a restart.
func (c *Consumer) Run(ctx context.Context, enqueue EnqueueFunc, log *zap.Logger) error {
	return run(ctx, c, enqueue, log)
}

func run(ctx context.Context, src fetchCommitter, enqueue EnqueueFunc, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		m, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Error("poison envelope, skipping", zap.Error(err), zap.Int64("offset", m.Offset))
			_ = src.Commit(ctx, m)
			continue
		}

		if err := enqueueWithRetry(ctx, enqueue, env, log); err != nil {
			return nil // ctx cancelled mid-retry; offset stays uncommitted
		}

		if err := src.Commit(ctx, m); err != nil {
			log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// enqueueWithRetry keeps re-attempting one envelope with capped exponential
// spacing. Only ctx cancellation gets it to give up.
func enqueueWithRetry(ctx context.Context, enqueue EnqueueFunc, env model.Envelope, log *zap.Logger) error {
	delay := 200 * time.Millisecond
	for {
		err := enqueue(ctx, env)
		if err == nil {
			return nil
		}
		log.Error("enqueue from kafka failed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}
