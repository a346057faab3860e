package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

type mockQueueStatsProvider struct {
	stats *QueueStats
}

func (m *mockQueueStatsProvider) QueueStats(ctx context.Context) (*QueueStats, error) {
	return m.stats, nil
}

type mockActiveCalls int

func (m mockActiveCalls) ActiveCalls(ctx context.Context) (int, error) {
	return int(m), nil
}

func openTestDB(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)

	c, err := NewCollector(db, New(), nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	c.Track(ExecutionsFinished, "completed")
	c.Track(ExecutionsFinished, "completed")
	c.Track(StepsProcessed, "send_sms", "failure")
	c.Add(Contacts, 5, "released")
	c.Track(Batches)
	c.Track("unknown", "x")

	if err := c.Stop(); err != nil {
		t.Fatalf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2 := openTestDB(t, path)
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	tests := []struct {
		name   string
		labels []string
		want   float64
	}{
		{ExecutionsFinished, []string{"completed"}, 2},
		{StepsProcessed, []string{"send_sms", "failure"}, 1},
		{Contacts, []string{"released"}, 5},
		{Batches, nil, 1},
		{"unknown", []string{"x"}, 0},
	}
	for _, tt := range tests {
		if got := c2.Value(tt.name, tt.labels...); got != tt.want {
			t.Errorf("Value(%s, %v) = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}

	if got := counterValue(t, m2.ExecutionsFinishedTotal, "completed"); got != 2 {
		t.Errorf("restored counter = %v, want 2", got)
	}
}

func TestCollectorRoutesGlobalHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	m := New()
	c, err := NewCollector(db, m, nil, path, time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	SetGlobal(m)
	SetGlobalCollector(c)
	defer func() {
		SetGlobalCollector(nil)
		SetGlobal(nil)
	}()

	IncSignal("workflow.resume")
	IncSignal("workflow.resume")

	if got := c.Value(Signals, "workflow.resume"); got != 2 {
		t.Errorf("shadow value = %v, want 2", got)
	}
	if got := counterValue(t, m.SignalsEmittedTotal, "workflow.resume"); got != 2 {
		t.Errorf("counter value = %v, want 2", got)
	}
}

func TestCollectSystemMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openTestDB(t, path)
	defer db.Close()

	m := New()
	queueStats := &mockQueueStatsProvider{
		stats: &QueueStats{Pending: 10, Running: 2, Deferred: 5, Failed: 1},
	}
	c, err := NewCollector(db, m, queueStats, path, time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	c.SetActiveCalls(mockActiveCalls(3))

	c.collectSystemMetrics(context.Background())

	gauges := map[string]float64{}
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if metric.Gauge != nil {
				gauges[f.GetName()] = metric.Gauge.GetValue()
			}
		}
	}

	want := map[string]float64{
		"campaignd_queue_pending":     10,
		"campaignd_queue_running":     2,
		"campaignd_queue_deferred":    5,
		"campaignd_queue_dead_letter": 1,
		"campaignd_active_calls":      3,
	}
	for name, v := range want {
		if gauges[name] != v {
			t.Errorf("%s = %v, want %v", name, gauges[name], v)
		}
	}
	if gauges["campaignd_storage_used_bytes"] <= 0 {
		t.Error("storage size gauge not set")
	}
	if gauges["campaignd_goroutines"] <= 0 {
		t.Error("goroutines gauge not set")
	}
}

func TestLabelKeys(t *testing.T) {
	tests := []struct {
		labels []string
		key    string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"GET", "/api/v1/executions/{id}", "200"}, "GET|/api/v1/executions/{id}|200"},
	}
	for _, tt := range tests {
		key := makeLabelKey(tt.labels...)
		if key != tt.key {
			t.Errorf("makeLabelKey(%v) = %q, want %q", tt.labels, key, tt.key)
		}
		back := splitLabelKey(key)
		if len(back) != len(tt.labels) {
			t.Errorf("splitLabelKey(%q) = %v, want %v", key, back, tt.labels)
		}
	}
}
