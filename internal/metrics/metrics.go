package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics   *Metrics
	globalCollector *Collector
	globalMu        sync.RWMutex
)

// Counter names used as shadow persistence keys
const (
	ExecutionsFinished = "executions_finished"
	StepsProcessed     = "steps_processed"
	Sends              = "sends"
	CampaignEvents     = "campaign_events"
	Contacts           = "contacts"
	Batches            = "batches"
	Signals            = "signals"
	Tasks              = "tasks"
	Calls              = "calls"
	APIRequests        = "api_requests"
	APIErrors          = "api_errors"
)

// Metrics holds all Prometheus metrics for campaignd
type Metrics struct {
	// Engine counters
	ExecutionsFinishedTotal *prometheus.CounterVec
	StepsProcessedTotal     *prometheus.CounterVec
	SendsTotal              *prometheus.CounterVec
	CallsTotal              *prometheus.CounterVec

	// Campaign counters
	CampaignEventsTotal *prometheus.CounterVec
	ContactsTotal       *prometheus.CounterVec
	BatchesTotal        *prometheus.CounterVec

	// Task substrate
	SignalsEmittedTotal *prometheus.CounterVec
	TasksTotal          *prometheus.CounterVec
	QueuePending        prometheus.Gauge
	QueueRunning        prometheus.Gauge
	QueueDeferred       prometheus.Gauge
	QueueFailed         prometheus.Gauge

	ActiveCalls prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ExecutionsFinishedTotal: newCounterVec("campaignd_executions_finished_total",
			"Total number of workflow executions that reached a terminal status", "status"),
		StepsProcessedTotal: newCounterVec("campaignd_steps_processed_total",
			"Total number of workflow steps processed", "step_type", "outcome"),
		SendsTotal: newCounterVec("campaignd_sends_total",
			"Total number of provider sends", "channel", "outcome"),
		CallsTotal: newCounterVec("campaignd_calls_total",
			"Total number of call scheduling events", "outcome"),

		CampaignEventsTotal: newCounterVec("campaignd_campaign_events_total",
			"Total number of campaign lifecycle events", "event"),
		ContactsTotal: newCounterVec("campaignd_contacts_total",
			"Total number of campaign contacts by dispatch outcome", "outcome"),
		BatchesTotal: newCounterVec("campaignd_batches_released_total",
			"Total number of contact batches released"),

		SignalsEmittedTotal: newCounterVec("campaignd_signals_emitted_total",
			"Total number of signals emitted", "name"),
		TasksTotal: newCounterVec("campaignd_tasks_total",
			"Total number of processed tasks", "name", "outcome"),
		QueuePending:  newGauge("campaignd_queue_pending", "Number of tasks due for processing"),
		QueueRunning:  newGauge("campaignd_queue_running", "Number of tasks currently being processed"),
		QueueDeferred: newGauge("campaignd_queue_deferred", "Number of tasks scheduled for later"),
		QueueFailed:   newGauge("campaignd_queue_dead_letter", "Number of tasks in the dead letter queue"),

		ActiveCalls: newGauge("campaignd_active_calls", "Number of reserved call slots across tenants"),

		APIRequestsTotal: newCounterVec("campaignd_api_requests_total",
			"Total number of API requests", "method", "path", "status"),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaignd_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: newCounterVec("campaignd_api_errors_total",
			"Total number of API errors", "error_type"),

		UptimeSeconds:    newGauge("campaignd_uptime_seconds", "Server uptime in seconds"),
		Goroutines:       newGauge("campaignd_goroutines", "Number of active goroutines"),
		StorageUsedBytes: newGauge("campaignd_storage_used_bytes", "Task store file size in bytes"),

		registry: reg,
	}

	m.counters = map[string]*prometheus.CounterVec{
		ExecutionsFinished: m.ExecutionsFinishedTotal,
		StepsProcessed:     m.StepsProcessedTotal,
		Sends:              m.SendsTotal,
		CampaignEvents:     m.CampaignEventsTotal,
		Contacts:           m.ContactsTotal,
		Batches:            m.BatchesTotal,
		Signals:            m.SignalsEmittedTotal,
		Tasks:              m.TasksTotal,
		Calls:              m.CallsTotal,
		APIRequests:        m.APIRequestsTotal,
		APIErrors:          m.APIErrorsTotal,
	}

	reg.MustRegister(
		m.ExecutionsFinishedTotal,
		m.StepsProcessedTotal,
		m.SendsTotal,
		m.CallsTotal,
		m.CampaignEventsTotal,
		m.ContactsTotal,
		m.BatchesTotal,
		m.SignalsEmittedTotal,
		m.TasksTotal,
		m.QueuePending,
		m.QueueRunning,
		m.QueueDeferred,
		m.QueueFailed,
		m.ActiveCalls,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Counter returns the counter vector registered under name
func (m *Metrics) Counter(name string) (*prometheus.CounterVec, bool) {
	c, ok := m.counters[name]
	return c, ok
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// SetGlobalCollector routes the package helpers through c so that
// counter values survive restarts
func SetGlobalCollector(c *Collector) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = c
}

func add(name string, v float64, labels ...string) {
	globalMu.RLock()
	c, m := globalCollector, globalMetrics
	globalMu.RUnlock()

	if c != nil {
		c.Add(name, v, labels...)
		return
	}
	if m == nil {
		return
	}
	if vec, ok := m.Counter(name); ok {
		vec.WithLabelValues(labels...).Add(v)
	}
}

func inc(name string, labels ...string) {
	add(name, 1, labels...)
}

// IncExecutionFinished counts an execution reaching a terminal status
func IncExecutionFinished(status string) {
	inc(ExecutionsFinished, status)
}

// IncStep counts a processed step, outcome is success, failure or skipped
func IncStep(stepType, outcome string) {
	inc(StepsProcessed, stepType, outcome)
}

// IncSend counts a provider send attempt
func IncSend(channel, outcome string) {
	inc(Sends, channel, outcome)
}

// IncCampaignEvent counts a campaign lifecycle event (started, completed, reverted)
func IncCampaignEvent(event string) {
	inc(CampaignEvents, event)
}

// AddContacts counts n campaign contacts with the given dispatch outcome
func AddContacts(outcome string, n int) {
	if n > 0 {
		add(Contacts, float64(n), outcome)
	}
}

// IncBatchReleased counts a released contact batch
func IncBatchReleased() {
	inc(Batches)
}

// IncSignal counts an emitted signal
func IncSignal(name string) {
	inc(Signals, name)
}

// IncTask counts a processed task by outcome (done, retried, dead)
func IncTask(name, outcome string) {
	inc(Tasks, name, outcome)
}

// IncCall counts a call scheduling event
func IncCall(outcome string) {
	inc(Calls, outcome)
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	inc(APIErrors, errorType)
}
