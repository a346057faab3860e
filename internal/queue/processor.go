package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/campaignd/internal/metrics"
)

// Handler runs one task. Returning an error schedules a retry unless the
// error wraps ErrPermanent.
type Handler func(ctx context.Context, t *Task) error

// Processor dispatches queued tasks to registered handlers
type Processor struct {
	queue           Queue
	handlers        map[string]Handler
	workers         int
	retryInterval   time.Duration
	maxRetries      int
	processInterval time.Duration
	taskTimeout     time.Duration
	dlqEnabled      bool
	logger          *slog.Logger
	now             func() time.Time

	mu     sync.RWMutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
	TaskTimeout     time.Duration
	DLQEnabled      bool
}

// NewProcessor creates a new queue processor
func NewProcessor(q Queue, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}

	return &Processor{
		queue:           q,
		handlers:        make(map[string]Handler),
		workers:         cfg.Workers,
		retryInterval:   cfg.RetryInterval,
		maxRetries:      cfg.MaxRetries,
		processInterval: cfg.ProcessInterval,
		taskTimeout:     cfg.TaskTimeout,
		dlqEnabled:      cfg.DLQEnabled,
		logger:          logger,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

// SetClock replaces the clock used to compute retry times
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Handle registers the handler for a task name
func (p *Processor) Handle(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

func (p *Processor) handler(name string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[name]
	return h, ok
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting task processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.logger.Info("stopping task processor")
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("task processor stopped")
}

// worker is the main processing loop
func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			// drain everything that is due before waiting for the next tick
			for p.processOne(ctx, logger) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// Drain processes due tasks on the calling goroutine until none is left
// and returns how many were handled
func (p *Processor) Drain(ctx context.Context) int {
	n := 0
	for p.processOne(ctx, p.logger) {
		n++
	}
	return n
}

// processOne processes a single task and reports whether one was dequeued
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	task, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue task", "error", err)
		return false
	}

	if task == nil {
		return false // Nothing is due
	}

	logger = logger.With("task_id", task.ID, "task", task.Name)
	logger.Debug("processing task")

	h, ok := p.handler(task.Name)
	if !ok {
		err = Permanent(fmt.Errorf("no handler registered for %q", task.Name))
	} else {
		taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
		err = p.run(taskCtx, h, task)
		cancel()
	}

	if err == nil {
		if err := p.queue.Complete(ctx, task); err != nil {
			logger.Error("failed to complete task", "error", err)
		}
		logger.Debug("task done")
		metrics.IncTask(task.Name, "done")
		return true
	}

	task.Attempts++
	task.LastError = err.Error()

	if !errors.Is(err, ErrPermanent) && task.Attempts < p.maxRetries {
		// Schedule retry with exponential backoff
		backoff := p.calculateBackoff(task.Attempts)
		task.RunAt = p.now().Add(backoff)

		logger.Warn("task failed, retrying",
			"error", err,
			"attempts", task.Attempts,
			"next_run_at", task.RunAt,
			"backoff", backoff,
		)

		if err := p.queue.Retry(ctx, task); err != nil {
			logger.Error("failed to defer task", "error", err)
		}
		metrics.IncTask(task.Name, "retried")
		return true
	}

	logger.Error("task failed permanently",
		"error", err,
		"attempts", task.Attempts,
		"max_retries", p.maxRetries,
	)

	if p.dlqEnabled {
		if err := p.queue.MoveToDLQ(ctx, task); err != nil {
			logger.Error("failed to move task to DLQ", "error", err)
		}
	} else if err := p.queue.Complete(ctx, task); err != nil {
		logger.Error("failed to drop task", "error", err)
	}
	metrics.IncTask(task.Name, "dead")
	return true
}

// run calls h and turns a panic into a task error
func (p *Processor) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, task)
}

// calculateBackoff calculates exponential backoff duration
func (p *Processor) calculateBackoff(attempts int) time.Duration {
	// Exponential backoff: retry_interval * 2^(attempts-1)
	// But cap it at a reasonable maximum (1 hour)
	multiplier := 1 << (attempts - 1) // 2^(n-1)
	if multiplier > 12 {
		multiplier = 12 // Cap at ~12x retry_interval
	}

	backoff := time.Duration(multiplier) * p.retryInterval

	// Max 1 hour
	maxBackoff := time.Hour
	if backoff > maxBackoff {
		return maxBackoff
	}

	return backoff
}
