// Package concurrency limits how many outbound calls a company has in
// flight at once.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/foxzi/campaignd/internal/models"
)

const (
	DefaultLimit       = 10
	DefaultCallTimeout = time.Hour

	// averageCallDuration drives wait estimates when every slot is taken
	averageCallDuration = 5 * time.Minute
	minWait             = time.Minute
)

// SettingsStore loads per-tenant settings
type SettingsStore interface {
	Get(ctx context.Context, companyID string) (*models.CompanySettings, error)
}

// Config contains manager settings
type Config struct {
	DefaultLimit int
	CallTimeout  time.Duration // reservations older than this no longer count
}

// Stats is a snapshot of a company's call slots
type Stats struct {
	Active      int `json:"active"`
	Limit       int `json:"limit"`
	Available   int `json:"available"`
	Utilization int `json:"utilization"` // percent
}

// Manager tracks active calls per company
type Manager struct {
	store    Store
	settings SettingsStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a concurrency manager
func NewManager(store Store, settings SettingsStore, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Manager{
		store:    store,
		settings: settings,
		cfg:      cfg,
		logger:   logger.With("component", "concurrency"),
		now:      time.Now,
	}
}

// SetClock replaces the manager clock
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) since() time.Time {
	return m.now().Add(-m.cfg.CallTimeout)
}

// Limit returns the company's max concurrent calls
func (m *Manager) Limit(ctx context.Context, companyID string) (int, error) {
	if m.settings == nil {
		return m.cfg.DefaultLimit, nil
	}
	s, err := m.settings.Get(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("failed to load call limit: %w", err)
	}
	if s == nil || s.MaxConcurrentCalls <= 0 {
		return m.cfg.DefaultLimit, nil
	}
	return s.MaxConcurrentCalls, nil
}

// CanStartNewCall reports whether the company has a free slot
func (m *Manager) CanStartNewCall(ctx context.Context, companyID string) (bool, error) {
	st, err := m.Stats(ctx, companyID)
	if err != nil {
		return false, err
	}
	return st.Available > 0, nil
}

// TrackCallStart reserves a slot for callID regardless of the limit
func (m *Manager) TrackCallStart(ctx context.Context, companyID, callID string) error {
	if _, err := m.store.Reserve(ctx, companyID, callID, m.now(), m.since(), 0); err != nil {
		return err
	}
	m.logger.Debug("call started", "company_id", companyID, "call_id", callID)
	return nil
}

// TryStartCall reserves a slot for callID if one is free. The check and the
// reservation are atomic in the store.
func (m *Manager) TryStartCall(ctx context.Context, companyID, callID string) (bool, error) {
	limit, err := m.Limit(ctx, companyID)
	if err != nil {
		return false, err
	}
	ok, err := m.store.Reserve(ctx, companyID, callID, m.now(), m.since(), limit)
	if err != nil {
		return false, err
	}
	if ok {
		m.logger.Debug("call slot reserved", "company_id", companyID, "call_id", callID)
	} else {
		m.logger.Info("call limit reached", "company_id", companyID, "call_id", callID, "limit", limit)
	}
	return ok, nil
}

// TrackCallEnd frees the slot of callID
func (m *Manager) TrackCallEnd(ctx context.Context, companyID, callID string) error {
	if err := m.store.Release(ctx, companyID, callID); err != nil {
		return err
	}
	m.logger.Debug("call ended", "company_id", companyID, "call_id", callID)
	return nil
}

// CleanupStaleCalls releases reservations older than the call timeout
func (m *Manager) CleanupStaleCalls(ctx context.Context) (int, error) {
	n, err := m.store.ReleaseBefore(ctx, m.since())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("released stale call slots", "count", n)
	}
	return n, nil
}

// Stats returns the company's slot usage
func (m *Manager) Stats(ctx context.Context, companyID string) (*Stats, error) {
	limit, err := m.Limit(ctx, companyID)
	if err != nil {
		return nil, err
	}
	active, err := m.store.List(ctx, companyID, m.since())
	if err != nil {
		return nil, err
	}
	st := &Stats{Active: len(active), Limit: limit}
	st.Available = max(limit-st.Active, 0)
	if limit > 0 {
		st.Utilization = int(math.Round(float64(st.Active) / float64(limit) * 100))
	}
	return st, nil
}

// EstimateWaitTime estimates when a slot frees up, assuming calls last
// about five minutes. Zero means a slot is free now.
func (m *Manager) EstimateWaitTime(ctx context.Context, companyID string) (time.Duration, error) {
	limit, err := m.Limit(ctx, companyID)
	if err != nil {
		return 0, err
	}
	active, err := m.store.List(ctx, companyID, m.since())
	if err != nil {
		return 0, err
	}
	if len(active) < limit {
		return 0, nil
	}
	wait := averageCallDuration - m.now().Sub(active[0].StartedAt)
	return max(wait, minWait), nil
}

// ActiveCalls counts active calls across companies
func (m *Manager) ActiveCalls(ctx context.Context) (int, error) {
	return m.store.CountAll(ctx, m.since())
}
