// Package api serves the HTTP interface for triggering workflows, inspecting
// executions and campaigns, and operating the task queue.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/concurrency"
	"github.com/foxzi/campaignd/internal/config"
	"github.com/foxzi/campaignd/internal/ipfilter"
	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/provider"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/workflow"
)

// Version is reported by the health endpoint
var Version = "dev"

// Engine starts and cancels workflow executions
type Engine interface {
	Trigger(ctx context.Context, req workflow.TriggerRequest) (*models.Execution, error)
	RequestCancel(ctx context.Context, executionID, reason string) (bool, error)
}

// ExecutionReader reads executions
type ExecutionReader interface {
	Get(ctx context.Context, id string) (*models.Execution, error)
}

// CampaignReader reads campaigns
type CampaignReader interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
}

// MemberCounter counts campaign members per status
type MemberCounter interface {
	CountByStatus(ctx context.Context, campaignID string) (models.MemberStatusCounts, error)
}

// HoursOracle resolves a tenant's business hours
type HoursOracle interface {
	For(ctx context.Context, companyID string) (*businesshours.Schedule, error)
}

// Sweeper runs a campaign scheduler sweep on demand
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// LeadStore updates lead records
type LeadStore interface {
	UpdateLeadStatus(ctx context.Context, companyID, id, status string) (bool, error)
}

// CallStore reads and closes call logs
type CallStore interface {
	Get(ctx context.Context, id string) (*models.CallLog, error)
	MarkEnded(ctx context.Context, id string) (bool, error)
}

// CallSlots reports and releases concurrent call reservations
type CallSlots interface {
	TrackCallEnd(ctx context.Context, companyID, callID string) error
	Stats(ctx context.Context, companyID string) (*concurrency.Stats, error)
}

// TaskStore exposes the task queue and its dead letter queue
type TaskStore interface {
	Stats(ctx context.Context) (*queue.Stats, error)
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Task, error)
	DLQStats(ctx context.Context) (*queue.DLQStats, error)
	ListDLQ(ctx context.Context, limit, offset int) ([]*queue.Task, error)
	RetryFromDLQ(ctx context.Context, id string) error
	DeleteFromDLQ(ctx context.Context, id string) error
}

// SandboxReader lists sends captured by the sandbox provider
type SandboxReader interface {
	List(ctx context.Context, filter provider.SandboxFilter) ([]*provider.Captured, error)
}

// Emitter emits signals
type Emitter interface {
	Emit(ctx context.Context, name string, payload any, opts ...signal.Option) (string, error)
}

// Deps are the services behind the API. Sandbox is nil unless the sandbox
// provider is active.
type Deps struct {
	Engine     Engine
	Executions ExecutionReader
	Campaigns  CampaignReader
	Members    MemberCounter
	Hours      HoursOracle
	Scheduler  Sweeper
	Leads      LeadStore
	Calls      CallStore
	Slots      CallSlots
	Tasks      TaskStore
	Sandbox    SandboxReader
	Bus        Emitter
}

// Server is the HTTP API server
type Server struct {
	Deps
	router     *chi.Mux
	httpServer *http.Server
	config     *config.APIConfig
	ipFilter   *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	s := &Server{
		Deps:      deps,
		router:    chi.NewRouter(),
		config:    cfg,
		ipFilter:  ipfilter.New(cfg.AllowedIPs, logger),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.ipFilter.HTTPMiddleware)
		r.Use(s.authMiddleware)

		r.Post("/workflows/{id}/trigger", s.handleTrigger)
		r.Get("/executions/{id}", s.handleExecution)
		r.Post("/executions/{id}/cancel", s.handleCancel)
		r.Get("/campaigns/{id}", s.handleCampaign)
		r.Post("/campaigns/sweep", s.handleSweep)
		r.Post("/leads/{id}/status", s.handleLeadStatus)
		r.Post("/calls/{id}/ended", s.handleCallEnded)
		r.Get("/concurrency/{companyID}", s.handleConcurrency)

		r.Get("/tasks", s.handleTasks)
		r.Get("/dlq", s.handleDLQ)
		r.Post("/dlq/{id}/retry", s.handleDLQRetry)
		r.Delete("/dlq/{id}", s.handleDLQDelete)

		r.Get("/sandbox", s.handleSandbox)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.config.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.config.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(s.config.IdleTimeout, 60*time.Second),
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
