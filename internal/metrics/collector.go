package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// QueueStats contains task queue statistics for metrics
type QueueStats struct {
	Pending  int64
	Running  int64
	Deferred int64
	Failed   int64
}

// QueueStatsProvider provides task queue statistics for metrics
type QueueStatsProvider interface {
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// ActiveCallsProvider reports reserved call slots across tenants
type ActiveCallsProvider interface {
	ActiveCalls(ctx context.Context) (int, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// ShadowCounters stores counter values for persistence,
// keyed by counter name and then by joined label values
type ShadowCounters map[string]map[string]float64

// Collector handles metrics persistence and system gauge updates
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	queueStats    QueueStatsProvider
	activeCalls   ActiveCallsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, queueStats QueueStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics bucket: %w", err)
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		queueStats:    queueStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow:        make(ShadowCounters),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetActiveCalls sets the provider of the active calls gauge
func (c *Collector) SetActiveCalls(p ActiveCallsProvider) {
	c.activeCalls = p
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// Track increments a counter by one
func (c *Collector) Track(name string, labels ...string) {
	c.Add(name, 1, labels...)
}

// Add adds v to a counter and its shadow value.
// Unknown counter names are ignored.
func (c *Collector) Add(name string, v float64, labels ...string) {
	vec, ok := c.metrics.Counter(name)
	if !ok {
		return
	}
	key := makeLabelKey(labels...)

	c.mu.Lock()
	values, ok := c.shadow[name]
	if !ok {
		values = make(map[string]float64)
		c.shadow[name] = values
	}
	values[key] += v
	c.mu.Unlock()

	vec.WithLabelValues(labels...).Add(v)
}

// Value returns the shadow value of a counter
func (c *Collector) Value(name string, labels ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shadow[name][makeLabelKey(labels...)]
}

// TrackAPIRequest tracks an API request and its duration
func (c *Collector) TrackAPIRequest(method, path, status string, duration time.Duration) {
	c.Track(APIRequests, method, path, status)
	c.metrics.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(duration.Seconds())
}

// loadCounters loads persisted counter values from bbolt
func (c *Collector) loadCounters() error {
	var shadow ShadowCounters
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &shadow); err != nil {
			shadow = nil // Skip invalid data
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load counters: %w", err)
	}

	for name, values := range shadow {
		vec, ok := c.metrics.Counter(name)
		if !ok {
			continue
		}
		for key, v := range values {
			labels := splitLabelKey(key)
			curried, err := vec.GetMetricWithLabelValues(labels...)
			if err != nil {
				continue // Label set changed since the value was written
			}
			curried.Add(v)

			c.mu.Lock()
			if c.shadow[name] == nil {
				c.shadow[name] = make(map[string]float64)
			}
			c.shadow[name][key] = v
			c.mu.Unlock()
		}
	}
	return nil
}

// persistCounters saves counter values to bbolt
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.queueStats != nil {
		if stats, err := c.queueStats.QueueStats(ctx); err == nil {
			c.metrics.QueuePending.Set(float64(stats.Pending))
			c.metrics.QueueRunning.Set(float64(stats.Running))
			c.metrics.QueueDeferred.Set(float64(stats.Deferred))
			c.metrics.QueueFailed.Set(float64(stats.Failed))
		}
	}

	if c.activeCalls != nil {
		if n, err := c.activeCalls.ActiveCalls(ctx); err == nil {
			c.metrics.ActiveCalls.Set(float64(n))
		}
	}
}

func makeLabelKey(labels ...string) string {
	return strings.Join(labels, "|")
}

func splitLabelKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "|")
}
