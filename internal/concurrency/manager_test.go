package concurrency

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/campaignd/internal/models"
)

type fakeSettings map[string]*models.CompanySettings

func (f fakeSettings) Get(ctx context.Context, companyID string) (*models.CompanySettings, error) {
	return f[companyID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, settings SettingsStore) (*Manager, *time.Time) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "calls.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewManager(store, settings, Config{}, testLogger())
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestManager_Limit(t *testing.T) {
	m, _ := newTestManager(t, fakeSettings{
		"co-custom": {CompanyID: "co-custom", MaxConcurrentCalls: 3},
		"co-zero":   {CompanyID: "co-zero"},
	})
	ctx := context.Background()

	tests := []struct {
		company string
		want    int
	}{
		{"co-custom", 3},
		{"co-zero", DefaultLimit},
		{"co-unknown", DefaultLimit},
	}
	for _, tt := range tests {
		got, err := m.Limit(ctx, tt.company)
		if err != nil {
			t.Fatalf("Limit(%s) error: %v", tt.company, err)
		}
		if got != tt.want {
			t.Errorf("Limit(%s) = %d, want %d", tt.company, got, tt.want)
		}
	}
}

func TestManager_TryStartCall(t *testing.T) {
	m, _ := newTestManager(t, fakeSettings{"co-1": {CompanyID: "co-1", MaxConcurrentCalls: 2}})
	ctx := context.Background()

	for _, id := range []string{"call-1", "call-2"} {
		ok, err := m.TryStartCall(ctx, "co-1", id)
		if err != nil || !ok {
			t.Fatalf("TryStartCall(%s) = %v, %v, want true", id, ok, err)
		}
	}

	ok, err := m.TryStartCall(ctx, "co-1", "call-3")
	if err != nil {
		t.Fatalf("TryStartCall() error: %v", err)
	}
	if ok {
		t.Error("third call should be rejected at limit 2")
	}

	// Retrying an admitted call is idempotent
	if ok, _ := m.TryStartCall(ctx, "co-1", "call-1"); !ok {
		t.Error("re-reserving an active call should succeed")
	}

	// Other tenants are unaffected
	if ok, _ := m.TryStartCall(ctx, "co-2", "call-x"); !ok {
		t.Error("other company should have free slots")
	}

	if err := m.TrackCallEnd(ctx, "co-1", "call-1"); err != nil {
		t.Fatalf("TrackCallEnd() error: %v", err)
	}
	if ok, _ := m.TryStartCall(ctx, "co-1", "call-3"); !ok {
		t.Error("call should start after a slot was freed")
	}
}

func TestManager_TrackCallStartIgnoresLimit(t *testing.T) {
	m, _ := newTestManager(t, fakeSettings{"co-1": {CompanyID: "co-1", MaxConcurrentCalls: 1}})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := m.TrackCallStart(ctx, "co-1", id); err != nil {
			t.Fatalf("TrackCallStart() error: %v", err)
		}
	}

	can, err := m.CanStartNewCall(ctx, "co-1")
	if err != nil {
		t.Fatalf("CanStartNewCall() error: %v", err)
	}
	if can {
		t.Error("CanStartNewCall() = true over the limit")
	}

	st, err := m.Stats(ctx, "co-1")
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if st.Active != 2 || st.Available != 0 || st.Utilization != 200 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestManager_Stats(t *testing.T) {
	m, _ := newTestManager(t, fakeSettings{"co-1": {CompanyID: "co-1", MaxConcurrentCalls: 3}})
	ctx := context.Background()

	m.TrackCallStart(ctx, "co-1", "a")

	st, err := m.Stats(ctx, "co-1")
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	want := Stats{Active: 1, Limit: 3, Available: 2, Utilization: 33}
	if *st != want {
		t.Errorf("Stats() = %+v, want %+v", *st, want)
	}
}

func TestManager_StaleCalls(t *testing.T) {
	m, now := newTestManager(t, fakeSettings{"co-1": {CompanyID: "co-1", MaxConcurrentCalls: 1}})
	ctx := context.Background()

	if ok, _ := m.TryStartCall(ctx, "co-1", "old"); !ok {
		t.Fatal("first call should start")
	}

	*now = now.Add(DefaultCallTimeout + time.Minute)

	// A reservation past the call timeout no longer occupies a slot
	if can, _ := m.CanStartNewCall(ctx, "co-1"); !can {
		t.Error("stale reservation should not count as active")
	}

	n, err := m.CleanupStaleCalls(ctx)
	if err != nil {
		t.Fatalf("CleanupStaleCalls() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupStaleCalls() = %d, want 1", n)
	}

	if n, _ := m.CleanupStaleCalls(ctx); n != 0 {
		t.Errorf("second cleanup released %d, want 0", n)
	}
}

func TestManager_EstimateWaitTime(t *testing.T) {
	m, now := newTestManager(t, fakeSettings{"co-1": {CompanyID: "co-1", MaxConcurrentCalls: 2}})
	ctx := context.Background()

	wait, err := m.EstimateWaitTime(ctx, "co-1")
	if err != nil {
		t.Fatalf("EstimateWaitTime() error: %v", err)
	}
	if wait != 0 {
		t.Errorf("EstimateWaitTime() with free slots = %v, want 0", wait)
	}

	m.TrackCallStart(ctx, "co-1", "a")
	*now = now.Add(2 * time.Minute)
	m.TrackCallStart(ctx, "co-1", "b")

	wait, _ = m.EstimateWaitTime(ctx, "co-1")
	if wait != 3*time.Minute {
		t.Errorf("EstimateWaitTime() = %v, want 3m", wait)
	}

	*now = now.Add(10 * time.Minute)
	wait, _ = m.EstimateWaitTime(ctx, "co-1")
	if wait != minWait {
		t.Errorf("EstimateWaitTime() for overdue calls = %v, want %v", wait, minWait)
	}
}

func TestManager_ActiveCalls(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	m.TrackCallStart(ctx, "co-1", "a")
	m.TrackCallStart(ctx, "co-1", "b")
	m.TrackCallStart(ctx, "co-2", "c")

	n, err := m.ActiveCalls(ctx)
	if err != nil {
		t.Fatalf("ActiveCalls() error: %v", err)
	}
	if n != 3 {
		t.Errorf("ActiveCalls() = %d, want 3", n)
	}
}

func TestBoltStore_List(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "calls.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	defer db.Close()

	s, err := NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Reserve(ctx, "co-1", "second", base.Add(time.Minute), time.Time{}, 0)
	s.Reserve(ctx, "co-1", "first", base, time.Time{}, 0)

	list, err := s.List(ctx, "co-1", time.Time{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 || list[0].CallID != "first" || list[1].CallID != "second" {
		t.Errorf("List() = %+v, want oldest first", list)
	}

	if list, _ := s.List(ctx, "co-missing", time.Time{}); len(list) != 0 {
		t.Errorf("List() for unknown company = %+v", list)
	}
	if err := s.Release(ctx, "co-missing", "x"); err != nil {
		t.Errorf("Release() for unknown company error: %v", err)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{
		Address:     "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Error("NewRedisStore() should fail for an unreachable address")
	}
}
