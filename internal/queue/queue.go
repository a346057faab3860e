package queue

import (
	"context"
)

// Queue defines the interface for durable task operations
type Queue interface {
	// Enqueue stores a task, due at RunAt (now when zero).
	// A task whose DedupKey matches an unfinished task is not stored again;
	// the existing task ID is written back into t.
	Enqueue(ctx context.Context, t *Task) error

	// Dequeue claims the next due task and marks it running
	// Returns nil, nil if nothing is due
	Dequeue(ctx context.Context) (*Task, error)

	// Complete marks a task done
	Complete(ctx context.Context, t *Task) error

	// Retry defers a failed task until t.RunAt
	Retry(ctx context.Context, t *Task) error

	// MoveToDLQ moves a task to the dead letter queue
	MoveToDLQ(ctx context.Context, t *Task) error

	// Get retrieves a task by ID
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Task, error)

	// Stats returns queue statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage connection
	Close() error
}
