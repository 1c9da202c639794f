// Package outbox relays committed audit entries from the record store's
// outbox to the audit topic.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"intake/internal/application/store"
	"intake/internal/platform/kafka"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Source hands out pending outbox entries and marks them published once
// publish succeeds.
type Source interface {
	ClaimPending(ctx context.Context, limit int, publish func(ctx context.Context, entries []store.OutboxEntry) error) (int, error)
}

// Publisher delivers messages and returns once all are acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Relay polls Source and publishes each entry keyed by application id, so all
// entries of one application land on one partition in audit order.
type Relay struct {
	source    Source
	publisher Publisher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func New(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. Publish failures are logged and retried
// on the next tick; the entries stay pending.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.InfoContext(ctx, "outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "outbox relay publish failed", "error", err)
			}
		}
	}
}

// Drain publishes batches until none is full or a publish fails.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RelayOnce(ctx)
		total += n
		if err != nil || n < r.batchSize {
			return total, err
		}
	}
}

// RelayOnce publishes at most one batch.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	n, err := r.source.ClaimPending(ctx, r.batchSize, func(ctx context.Context, entries []store.OutboxEntry) error {
		return r.publisher.Publish(ctx, toMessages(entries)...)
	})
	if err != nil {
		r.metrics.IncrementFailure()
		return 0, err
	}
	r.metrics.AddPublished(n)
	return n, nil
}

func toMessages(entries []store.OutboxEntry) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, kafka.Message{
			Key:   e.AggregateID,
			Value: e.Payload,
			Headers: map[string]string{
				"event_id":       e.ID.String(),
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
			},
		})
	}
	return msgs
}
