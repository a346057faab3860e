package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains cleanup settings
type CleanerConfig struct {
	// Finished tasks retention
	DoneMaxAge   time.Duration
	DoneInterval time.Duration

	// DLQ retention
	DLQMaxAge   time.Duration
	DLQMaxCount int
	DLQInterval time.Duration
}

// PruneFunc deletes expired records and returns how many it removed
type PruneFunc func(ctx context.Context) (int, error)

type pruneJob struct {
	name     string
	interval time.Duration
	run      PruneFunc
}

// Cleaner periodically prunes finished tasks, the DLQ and any other
// registered bbolt data sharing the task database
type Cleaner struct {
	jobs   []pruneJob
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a cleaner for the storage retention in cfg
func NewCleaner(storage *BoltStorage, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	c := &Cleaner{
		logger: logger,
		done:   make(chan struct{}),
	}

	if cfg.DoneMaxAge > 0 {
		c.AddPruner("finished tasks", cfg.DoneInterval, func(ctx context.Context) (int, error) {
			return storage.CleanupDone(ctx, cfg.DoneMaxAge)
		})
	}
	if cfg.DLQMaxAge > 0 || cfg.DLQMaxCount > 0 {
		c.AddPruner("DLQ tasks", cfg.DLQInterval, func(ctx context.Context) (int, error) {
			return storage.CleanupDLQ(ctx, cfg.DLQMaxAge, cfg.DLQMaxCount)
		})
	}
	return c
}

// AddPruner registers an extra retention job. Jobs without an interval
// are ignored. Must be called before Start.
func (c *Cleaner) AddPruner(name string, interval time.Duration, run PruneFunc) {
	if interval <= 0 {
		return
	}
	c.jobs = append(c.jobs, pruneJob{name: name, interval: interval, run: run})
}

// Start starts one goroutine per job
func (c *Cleaner) Start(ctx context.Context) {
	for _, job := range c.jobs {
		c.wg.Add(1)
		go c.loop(ctx, job)
		c.logger.Info("cleanup scheduled", "target", job.name, "interval", job.interval)
	}
}

// Stop stops the cleaner and waits for goroutines to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
	c.logger.Info("cleaner stopped")
}

// RunOnce runs every job immediately and returns the number of records removed
func (c *Cleaner) RunOnce(ctx context.Context) int {
	total := 0
	for _, job := range c.jobs {
		total += c.prune(ctx, job)
	}
	return total
}

func (c *Cleaner) loop(ctx context.Context, job pruneJob) {
	defer c.wg.Done()

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	c.prune(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.prune(ctx, job)
		}
	}
}

func (c *Cleaner) prune(ctx context.Context, job pruneJob) int {
	deleted, err := job.run(ctx)
	if err != nil {
		c.logger.Error("cleanup failed", "target", job.name, "error", err)
		return 0
	}
	if deleted > 0 {
		c.logger.Info("cleaned up expired records", "target", job.name, "deleted", deleted)
	}
	return deleted
}
