package concurrency

import (
	"context"
	"time"
)

// Reservation is one call holding a concurrency slot
type Reservation struct {
	CallID    string    `json:"call_id"`
	StartedAt time.Time `json:"started_at"`
}

// Store keeps call reservations per company
type Store interface {
	// Reserve adds callID to the company's active calls when fewer than
	// limit reservations started after since exist. An existing
	// reservation for callID is reported as reserved. limit <= 0 reserves
	// unconditionally.
	Reserve(ctx context.Context, companyID, callID string, at, since time.Time, limit int) (bool, error)

	// Release removes a reservation. Unknown calls are ignored.
	Release(ctx context.Context, companyID, callID string) error

	// List returns the company's reservations started after since, oldest first
	List(ctx context.Context, companyID string, since time.Time) ([]Reservation, error)

	// ReleaseBefore removes every reservation started before cutoff
	ReleaseBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CountAll counts reservations started after since across companies
	CountAll(ctx context.Context, since time.Time) (int, error)

	Close() error
}
