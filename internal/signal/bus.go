package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/queue"
)

// Enqueuer persists tasks for later delivery
type Enqueuer interface {
	Enqueue(ctx context.Context, t *queue.Task) error
}

// Mirror receives a copy of every emitted signal
type Mirror interface {
	Publish(ctx context.Context, name string, body []byte) error
}

// Option configures a single emit
type Option func(*queue.Task)

// WithDedupKey makes the emit a no-op while an unfinished signal with the
// same key exists
func WithDedupKey(key string) Option {
	return func(t *queue.Task) {
		t.DedupKey = key
	}
}

// Bus emits signals as durable queue tasks
type Bus struct {
	queue   Enqueuer
	mirrors []Mirror
	logger  *slog.Logger
}

// NewBus creates a bus on top of q
func NewBus(q Enqueuer, logger *slog.Logger, mirrors ...Mirror) *Bus {
	return &Bus{
		queue:   q,
		mirrors: mirrors,
		logger:  logger.With("component", "signal"),
	}
}

// Emit delivers a signal as soon as a worker is free and returns the task id
func (b *Bus) Emit(ctx context.Context, name string, payload any, opts ...Option) (string, error) {
	return b.EmitAt(ctx, name, payload, time.Time{}, opts...)
}

// EmitAt delivers a signal no earlier than at. A zero at means now.
func (b *Bus) EmitAt(ctx context.Context, name string, payload any, at time.Time, opts ...Option) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}

	task := &queue.Task{
		Name:    name,
		Payload: body,
		RunAt:   at,
	}
	for _, opt := range opts {
		opt(task)
	}

	if err := b.queue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	b.logger.Debug("signal emitted", "signal", name, "task_id", task.ID, "run_at", task.RunAt)
	metrics.IncSignal(name)

	for _, m := range b.mirrors {
		if err := m.Publish(ctx, name, body); err != nil {
			b.logger.Warn("failed to mirror signal", "signal", name, "error", err)
		}
	}

	return task.ID, nil
}
