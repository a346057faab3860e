package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *BoltStorage {
	t.Helper()
	storage, err := NewBoltStorage(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestBoltStorage(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	task := &Task{
		Name:    "workflow.execute",
		Payload: json.RawMessage(`{"executionId":"ex-1"}`),
	}
	if err := storage.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if task.ID == "" {
		t.Fatal("Enqueue() did not assign an ID")
	}

	got, err := storage.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Status != StatusPending || got.Name != "workflow.execute" {
		t.Fatalf("Get() = %+v", got)
	}

	notFound, err := storage.Get(ctx, "nonexistent")
	if err != nil || notFound != nil {
		t.Errorf("Get(nonexistent) = %v, %v, want nil, nil", notFound, err)
	}

	claimed, err := storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if claimed == nil || claimed.ID != task.ID || claimed.Status != StatusRunning {
		t.Fatalf("Dequeue() = %+v", claimed)
	}

	empty, err := storage.Dequeue(ctx)
	if err != nil || empty != nil {
		t.Errorf("Dequeue(empty) = %v, %v", empty, err)
	}

	if err := storage.Complete(ctx, claimed); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Done != 1 || stats.Total != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBoltStorage_DeferredOrdering(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	storage.SetClock(func() time.Time { return now })

	later := &Task{Name: "later", RunAt: now.Add(2 * time.Hour)}
	sooner := &Task{Name: "sooner", RunAt: now.Add(time.Hour)}
	for _, task := range []*Task{later, sooner} {
		if err := storage.Enqueue(ctx, task); err != nil {
			t.Fatal(err)
		}
		if task.Status != StatusDeferred {
			t.Errorf("%s status = %s, want deferred", task.Name, task.Status)
		}
	}

	if got, _ := storage.Dequeue(ctx); got != nil {
		t.Fatalf("Dequeue() returned %s before it was due", got.Name)
	}

	now = now.Add(3 * time.Hour)
	due := &Task{Name: "due-now"}
	if err := storage.Enqueue(ctx, due); err != nil {
		t.Fatal(err)
	}

	var order []string
	for {
		got, err := storage.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil {
			break
		}
		order = append(order, got.Name)
	}

	want := []string{"sooner", "later", "due-now"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestBoltStorage_Dedup(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := &Task{Name: "workflow.resume", DedupKey: "resume:ex-1:1"}
	if err := storage.Enqueue(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Task{Name: "workflow.resume", DedupKey: "resume:ex-1:1"}
	if err := storage.Enqueue(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate got a new ID %s, want %s", second.ID, first.ID)
	}

	stats, _ := storage.Stats(ctx)
	if stats.Total != 1 {
		t.Fatalf("Total = %d, want 1", stats.Total)
	}

	// once finished the key may be reused
	claimed, _ := storage.Dequeue(ctx)
	if err := storage.Complete(ctx, claimed); err != nil {
		t.Fatal(err)
	}
	third := &Task{Name: "workflow.resume", DedupKey: "resume:ex-1:1"}
	if err := storage.Enqueue(ctx, third); err != nil {
		t.Fatal(err)
	}
	if third.ID == first.ID {
		t.Error("finished task blocked a new enqueue")
	}
}

func TestBoltStorage_RecoverRunning(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Enqueue(ctx, &Task{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	claimed, _ := storage.Dequeue(ctx)
	if claimed == nil {
		t.Fatal("nothing dequeued")
	}

	n, err := storage.RecoverRunning(ctx)
	if err != nil {
		t.Fatalf("RecoverRunning() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RecoverRunning() = %d, want 1", n)
	}

	again, _ := storage.Dequeue(ctx)
	if again == nil || again.ID != claimed.ID {
		t.Errorf("recovered task not dequeued: %+v", again)
	}
}

func TestBoltStorage_DLQ(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	task := &Task{Name: "a"}
	if err := storage.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	claimed, _ := storage.Dequeue(ctx)
	claimed.Attempts = 5
	claimed.LastError = "boom"
	if err := storage.MoveToDLQ(ctx, claimed); err != nil {
		t.Fatalf("MoveToDLQ() error = %v", err)
	}

	dlq, err := storage.ListDLQ(ctx, 0, 0)
	if err != nil || len(dlq) != 1 {
		t.Fatalf("ListDLQ() = %v, %v", dlq, err)
	}
	stats, _ := storage.DLQStats(ctx)
	if stats.Total != 1 {
		t.Errorf("DLQStats().Total = %d, want 1", stats.Total)
	}

	if err := storage.RetryFromDLQ(ctx, task.ID); err != nil {
		t.Fatalf("RetryFromDLQ() error = %v", err)
	}
	retried, _ := storage.Dequeue(ctx)
	if retried == nil || retried.Attempts != 0 {
		t.Fatalf("retried task = %+v", retried)
	}

	if err := storage.RetryFromDLQ(ctx, task.ID); err == nil {
		t.Error("RetryFromDLQ() on a task outside the DLQ succeeded")
	}

	storage.MoveToDLQ(ctx, retried)
	if err := storage.DeleteFromDLQ(ctx, task.ID); err != nil {
		t.Fatalf("DeleteFromDLQ() error = %v", err)
	}
	if got, _ := storage.Get(ctx, task.ID); got != nil {
		t.Error("task still stored after DeleteFromDLQ()")
	}
}

func TestBoltStorage_Cleanup(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	storage.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		task := &Task{Name: "a"}
		storage.Enqueue(ctx, task)
		claimed, _ := storage.Dequeue(ctx)
		storage.MoveToDLQ(ctx, claimed)
		now = now.Add(time.Minute)
	}
	done := &Task{Name: "b"}
	storage.Enqueue(ctx, done)
	claimed, _ := storage.Dequeue(ctx)
	storage.Complete(ctx, claimed)

	now = now.Add(2 * time.Hour)

	n, err := storage.CleanupDone(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("CleanupDone() = %d, %v, want 1", n, err)
	}

	n, err = storage.CleanupDLQ(ctx, 0, 1)
	if err != nil || n != 2 {
		t.Errorf("CleanupDLQ(count) = %d, %v, want 2", n, err)
	}
	n, err = storage.CleanupDLQ(ctx, time.Hour, 0)
	if err != nil || n != 1 {
		t.Errorf("CleanupDLQ(age) = %d, %v, want 1", n, err)
	}
}
