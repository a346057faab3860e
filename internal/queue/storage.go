package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks      = []byte("tasks")
	bucketPending    = []byte("pending")
	bucketDeferred   = []byte("deferred")
	bucketDeadLetter = []byte("dead_letter")
	bucketDedup      = []byte("dedup")
)

// BoltStorage implements Queue using BoltDB
type BoltStorage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketPending, bucketDeferred, bucketDeadLetter, bucketDedup} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used to decide which tasks are due
func (s *BoltStorage) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the storage clock's current time
func (s *BoltStorage) Now() time.Time {
	return s.now()
}

func putTask(tx *bolt.Tx, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := tx.Bucket(bucketTasks).Put([]byte(t.ID), data); err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	return nil
}

func getTask(tx *bolt.Tx, id []byte) (*Task, error) {
	data := tx.Bucket(bucketTasks).Get(id)
	if data == nil {
		return nil, nil
	}
	t := &Task{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// schedule indexes a task as pending when due, deferred otherwise
func (s *BoltStorage) schedule(tx *bolt.Tx, t *Task) error {
	if t.RunAt.After(s.now()) {
		t.Status = StatusDeferred
		if err := tx.Bucket(bucketDeferred).Put(makeIndexKey(t.RunAt, t.ID), []byte(t.ID)); err != nil {
			return fmt.Errorf("failed to add to deferred index: %w", err)
		}
	} else {
		t.Status = StatusPending
		if err := tx.Bucket(bucketPending).Put(makeIndexKey(t.RunAt, t.ID), []byte(t.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
	}
	return putTask(tx, t)
}

func releaseDedup(tx *bolt.Tx, t *Task) error {
	if t.DedupKey == "" {
		return nil
	}
	b := tx.Bucket(bucketDedup)
	if string(b.Get([]byte(t.DedupKey))) == t.ID {
		return b.Delete([]byte(t.DedupKey))
	}
	return nil
}

// Enqueue adds a task to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, t *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if t.DedupKey != "" {
			if id := tx.Bucket(bucketDedup).Get([]byte(t.DedupKey)); id != nil {
				existing, err := getTask(tx, id)
				if err != nil {
					return err
				}
				if existing != nil && existing.Status != StatusDone && existing.Status != StatusFailed {
					t.ID = existing.ID
					t.Status = existing.Status
					return nil
				}
			}
		}

		now := s.now()
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.RunAt.IsZero() {
			t.RunAt = now
		}
		t.CreatedAt = now
		t.UpdatedAt = now

		if t.DedupKey != "" {
			if err := tx.Bucket(bucketDedup).Put([]byte(t.DedupKey), []byte(t.ID)); err != nil {
				return fmt.Errorf("failed to store dedup key: %w", err)
			}
		}
		return s.schedule(tx, t)
	})
}

// Dequeue claims the next due task: due deferred tasks first, then pending ones
func (s *BoltStorage) Dequeue(ctx context.Context) (*Task, error) {
	var task *Task

	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.now()

		claim := func(bucket []byte, dueOnly bool) (bool, error) {
			c := tx.Bucket(bucket).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if dueOnly && parseTimestampFromKey(k).After(now) {
					return false, nil // All remaining are in the future
				}

				t, err := getTask(tx, v)
				if err != nil || t == nil {
					// Task was deleted or is unreadable, clean up index
					if err := c.Delete(); err != nil {
						return false, err
					}
					continue
				}

				if err := c.Delete(); err != nil {
					return false, err
				}

				t.Status = StatusRunning
				t.UpdatedAt = now
				if err := putTask(tx, t); err != nil {
					return false, err
				}
				task = t
				return true, nil
			}
			return false, nil
		}

		found, err := claim(bucketDeferred, true)
		if err != nil || found {
			return err
		}
		_, err = claim(bucketPending, false)
		return err
	})

	return task, err
}

// Complete marks a task done
func (s *BoltStorage) Complete(ctx context.Context, t *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t.Status = StatusDone
		t.LastError = ""
		t.UpdatedAt = s.now()
		if err := releaseDedup(tx, t); err != nil {
			return err
		}
		return putTask(tx, t)
	})
}

// Retry defers a task until t.RunAt
func (s *BoltStorage) Retry(ctx context.Context, t *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t.UpdatedAt = s.now()
		return s.schedule(tx, t)
	})
}

// Get retrieves a task by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Task, error) {
	var task *Task
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		task, err = getTask(tx, []byte(id))
		return err
	})
	return task, err
}

// List returns tasks with optional filtering
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	var tasks []*Task

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}

			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.Name != "" && t.Name != filter.Name {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			tasks = append(tasks, &t)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return tasks, err
}

// Delete removes a task and its index entries
func (s *BoltStorage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t, err := getTask(tx, []byte(id))
		if err != nil {
			return err
		}
		if t != nil {
			key := makeIndexKey(t.RunAt, t.ID)
			tx.Bucket(bucketPending).Delete(key)
			tx.Bucket(bucketDeferred).Delete(key)
			if err := releaseDedup(tx, t); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}

			stats.Total++
			switch t.Status {
			case StatusPending:
				stats.Pending++
			case StatusRunning:
				stats.Running++
			case StatusDeferred:
				stats.Deferred++
			case StatusDone:
				stats.Done++
			case StatusFailed:
				stats.Failed++
			}
		}

		return nil
	})

	return stats, err
}

// RecoverRunning re-queues tasks left running by a stopped process
func (s *BoltStorage) RecoverRunning(ctx context.Context) (int, error) {
	recovered := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		var stuck []*Task
		c := tx.Bucket(bucketTasks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if t.Status == StatusRunning {
				stuck = append(stuck, &t)
			}
		}

		for _, t := range stuck {
			t.RunAt = s.now()
			t.UpdatedAt = t.RunAt
			if err := s.schedule(tx, t); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})

	return recovered, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

const indexTimeLayout = "2006-01-02T15:04:05.000000000Z"

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	// Format: fixed width UTC timestamp + "|" + id
	return []byte(t.UTC().Format(indexTimeLayout) + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if i := strings.IndexByte(s, '|'); i >= 0 {
		ts, _ := time.Parse(indexTimeLayout, s[:i])
		return ts
	}
	return time.Time{}
}

// Dead Letter Queue methods

// MoveToDLQ moves a failed task to the dead letter queue
func (s *BoltStorage) MoveToDLQ(ctx context.Context, t *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t.Status = StatusFailed
		t.UpdatedAt = s.now()

		if err := tx.Bucket(bucketDeadLetter).Put(makeIndexKey(t.UpdatedAt, t.ID), []byte(t.ID)); err != nil {
			return fmt.Errorf("failed to add to DLQ index: %w", err)
		}
		if err := releaseDedup(tx, t); err != nil {
			return err
		}
		return putTask(tx, t)
	})
}

// ListDLQ returns tasks in the dead letter queue, oldest first
func (s *BoltStorage) ListDLQ(ctx context.Context, limit, offset int) ([]*Task, error) {
	var tasks []*Task

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeadLetter).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}

			t, err := getTask(tx, v)
			if err != nil || t == nil {
				continue
			}

			tasks = append(tasks, t)
			count++

			if limit > 0 && count >= limit {
				break
			}
		}

		return nil
	})

	return tasks, err
}

func removeFromDLQ(tx *bolt.Tx, id string) error {
	c := tx.Bucket(bucketDeadLetter).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if string(v) == id {
			return c.Delete()
		}
	}
	return nil
}

// RetryFromDLQ moves a task from the DLQ back to the pending queue
func (s *BoltStorage) RetryFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t, err := getTask(tx, []byte(id))
		if err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}
		if t == nil || t.Status != StatusFailed {
			return fmt.Errorf("task not found in DLQ: %s", id)
		}

		if err := removeFromDLQ(tx, id); err != nil {
			return err
		}

		t.Attempts = 0
		t.LastError = ""
		t.RunAt = s.now()
		t.UpdatedAt = t.RunAt
		return s.schedule(tx, t)
	})
}

// DeleteFromDLQ permanently deletes a task from the dead letter queue
func (s *BoltStorage) DeleteFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := removeFromDLQ(tx, id); err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// DLQStats contains dead letter queue statistics
type DLQStats struct {
	Total     int64     `json:"total"`
	TotalSize int64     `json:"total_size"`
	OldestAt  time.Time `json:"oldest_at,omitempty"`
}

// DLQStats returns dead letter queue statistics
func (s *BoltStorage) DLQStats(ctx context.Context) (*DLQStats, error) {
	stats := &DLQStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		c := tx.Bucket(bucketDeadLetter).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			stats.Total++
			if stats.Total == 1 {
				stats.OldestAt = parseTimestampFromKey(k)
			}
			if data := tasks.Get(v); data != nil {
				stats.TotalSize += int64(len(data))
			}
		}
		return nil
	})

	return stats, err
}

// Cleanup methods

// CleanupDone removes finished tasks older than maxAge
func (s *BoltStorage) CleanupDone(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		c := b.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if t.Status == StatusDone && t.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// CleanupDLQ removes DLQ tasks by age and enforces max count, oldest first
func (s *BoltStorage) CleanupDLQ(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		dlq := tx.Bucket(bucketDeadLetter)
		tasks := tx.Bucket(bucketTasks)

		type item struct {
			indexKey []byte
			taskID   []byte
		}
		var keep, expired []item

		cutoff := s.now().Add(-maxAge)
		c := dlq.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			it := item{indexKey: append([]byte{}, k...), taskID: append([]byte{}, v...)}
			if maxAge > 0 && parseTimestampFromKey(k).Before(cutoff) {
				expired = append(expired, it)
			} else {
				keep = append(keep, it)
			}
		}

		// keep is in index order, so the oldest come first
		if maxCount > 0 && len(keep) > maxCount {
			expired = append(expired, keep[:len(keep)-maxCount]...)
		}

		for _, it := range expired {
			if err := dlq.Delete(it.indexKey); err != nil {
				return err
			}
			if err := tasks.Delete(it.taskID); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}
