package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskStatus represents the status of a task in the queue
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusRunning  TaskStatus = "running"
	StatusDeferred TaskStatus = "deferred"
	StatusDone     TaskStatus = "done"
	StatusFailed   TaskStatus = "failed"
)

// Task is one durable unit of work addressed to a named handler
type Task struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Status    TaskStatus      `json:"status"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	RunAt     time.Time       `json:"run_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into v
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(fmt.Errorf("invalid %s payload: %w", t.Name, err))
	}
	return nil
}

// Stats represents queue statistics
type Stats struct {
	Pending  int64 `json:"pending"`
	Running  int64 `json:"running"`
	Deferred int64 `json:"deferred"`
	Done     int64 `json:"done"`
	Failed   int64 `json:"failed"`
	Total    int64 `json:"total"`
}

// ListFilter represents filter options for listing tasks
type ListFilter struct {
	Status TaskStatus
	Name   string
	Limit  int
	Offset int
}

// ErrPermanent marks handler errors that must not be retried
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so the processor moves the task to the DLQ without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
