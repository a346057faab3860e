package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCleaner_RunOnce(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)
	storage.SetClock(func() time.Time { return now })

	for _, id := range []string{"old", "fresh"} {
		if id == "fresh" {
			now = now.Add(90 * time.Minute)
		}
		task := &Task{Name: "workflow.execute", Payload: json.RawMessage(`{}`)}
		if err := storage.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		claimed, err := storage.Dequeue(ctx)
		if err != nil || claimed == nil {
			t.Fatalf("Dequeue() = %v, %v", claimed, err)
		}
		if err := storage.Complete(ctx, claimed); err != nil {
			t.Fatalf("Complete(%s) error = %v", id, err)
		}
	}
	now = now.Add(10 * time.Minute)

	var extraCalls int
	cleaner := NewCleaner(storage, CleanerConfig{DoneMaxAge: time.Hour, DoneInterval: time.Hour}, testLogger())
	cleaner.AddPruner("captures", time.Hour, func(ctx context.Context) (int, error) {
		extraCalls++
		return 2, nil
	})
	cleaner.AddPruner("broken", time.Hour, func(ctx context.Context) (int, error) {
		return 5, errors.New("disk on fire")
	})
	cleaner.AddPruner("never", 0, func(ctx context.Context) (int, error) {
		t.Error("pruner without interval should not run")
		return 0, nil
	})

	if got := cleaner.RunOnce(ctx); got != 3 {
		t.Errorf("RunOnce() = %d, want 3 (one task, two captures)", got)
	}
	if extraCalls != 1 {
		t.Errorf("extra pruner ran %d times, want 1", extraCalls)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Done != 1 {
		t.Errorf("Done = %d, want 1 after cleanup", stats.Done)
	}
}

func TestCleaner_StartStop(t *testing.T) {
	storage := newTestStorage(t)
	cleaner := NewCleaner(storage, CleanerConfig{DLQMaxCount: 10, DLQInterval: time.Hour}, testLogger())

	ran := make(chan struct{}, 1)
	cleaner.AddPruner("stale-tasks", time.Hour, func(ctx context.Context) (int, error) {
		ran <- struct{}{}
		return 0, nil
	})

	cleaner.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Error("pruner should run on start")
	}
	cleaner.Stop()
}
