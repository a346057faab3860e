package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/foxzi/campaignd/internal/api"
	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/campaign"
	"github.com/foxzi/campaignd/internal/concurrency"
	"github.com/foxzi/campaignd/internal/config"
	"github.com/foxzi/campaignd/internal/db"
	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/repository"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/suppression"
	"github.com/foxzi/campaignd/internal/workflow"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *sqlx.DB
	tasks         *queue.BoltStorage
	slotStore     concurrency.Store
	mirror        *signal.AMQPMirror
	processor     *queue.Processor
	cleaner       *queue.Cleaner
	scheduler     *campaign.Scheduler
	apiServer     *api.Server
	collector     *metrics.Collector
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	ctx := context.Background()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	tasks, err := queue.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{config: cfg, db: conn, tasks: tasks, logger: logger}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.config, a.logger

	recovered, err := a.tasks.RecoverRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover running tasks: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted tasks", "count", recovered)
	}

	store := repository.NewStore(a.db)

	var mirrors []signal.Mirror
	if cfg.Signals.AMQPURL != "" {
		a.mirror, err = signal.NewAMQPMirror(cfg.Signals.AMQPURL, cfg.Signals.Exchange, logger)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, a.mirror)
		logger.Info("signal mirror enabled", "exchange", cfg.Signals.Exchange)
	}
	bus := signal.NewBus(a.tasks, logger, mirrors...)

	oracle, err := businesshours.NewOracle(store.Settings, businesshours.Hours{
		Days:     cfg.BusinessHours.Days,
		Start:    cfg.BusinessHours.Start,
		End:      cfg.BusinessHours.End,
		Timezone: cfg.BusinessHours.Timezone,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create business hours oracle: %w", err)
	}

	a.slotStore, err = newSlotStore(ctx, cfg.Concurrency, a.tasks)
	if err != nil {
		return err
	}
	slots := concurrency.NewManager(a.slotStore, store.Settings, concurrency.Config{
		DefaultLimit: cfg.Concurrency.MaxConcurrentCalls,
		CallTimeout:  cfg.Concurrency.CallTimeout,
	}, logger)
	logger.Info("call concurrency enabled", "backend", cfg.Concurrency.Backend,
		"default_limit", cfg.Concurrency.MaxConcurrentCalls)

	out, err := newSenders(cfg, a.tasks.DB(), logger)
	if err != nil {
		return err
	}

	filter := suppression.NewFilter(store.Suppressions)

	processors := workflow.NewProcessors(workflow.ProcessorDeps{
		Templates:   store.Templates,
		Contacts:    store.Contacts,
		Calls:       store.Calls,
		Bus:         bus,
		Email:       out.email,
		SMS:         out.sms,
		Suppression: filter,
	}, logger)
	engine := workflow.NewEngine(workflow.EngineDeps{
		Executions: store.Executions,
		Workflows:  store.Workflows,
		Campaigns:  store.Campaigns,
		Contacts:   store.Contacts,
		Hours:      oracle,
		Bus:        bus,
		Processors: processors,
	}, logger)
	calls := workflow.NewCallScheduler(store.Calls, store.Contacts, slots, out.dialer, oracle, bus, logger)

	aggregator := campaign.NewAggregator(store.Campaigns, store.Members, store.Executions, store.CampaignExecutions, logger)
	a.scheduler = campaign.NewScheduler(campaign.SchedulerDeps{
		Campaigns:   store.Campaigns,
		Members:     store.Members,
		Workflows:   store.Workflows,
		Templates:   store.Templates,
		Contacts:    store.Contacts,
		Suppression: filter,
		Hours:       oracle,
		Bus:         bus,
		Calls:       slots,
		Aggregator:  aggregator,
	}, cfg.Scheduler.Interval, logger)
	dispatcher := campaign.NewDispatcher(campaign.DispatcherDeps{
		Campaigns:  store.Campaigns,
		Members:    store.Members,
		Executions: store.Executions,
		Contacts:   store.Contacts,
		Hours:      oracle,
		Bus:        bus,
		Aggregator: aggregator,
	}, campaign.DispatcherConfig{
		BatchSize:   cfg.Dispatcher.DefaultBatchSize,
		NextDayTime: cfg.Dispatcher.NextDayTime,
	}, logger)

	a.processor = queue.NewProcessor(a.tasks, queue.ProcessorConfig{
		Workers:         cfg.Queue.Workers,
		RetryInterval:   cfg.Queue.RetryInterval,
		MaxRetries:      cfg.Queue.MaxRetries,
		ProcessInterval: cfg.Queue.PollInterval,
		TaskTimeout:     cfg.Queue.TaskTimeout,
		DLQEnabled:      cfg.DLQ.Enabled,
	}, logger.With("component", "processor"))
	engine.Register(a.processor)
	calls.Register(a.processor)
	dispatcher.Register(a.processor)
	aggregator.Register(a.processor)

	cleanerCfg := queue.CleanerConfig{
		DoneMaxAge:   cfg.Storage.Retention.CompletedMaxAge,
		DoneInterval: cfg.Storage.Retention.CleanupInterval,
	}
	if cfg.DLQ.Enabled {
		cleanerCfg.DLQMaxAge = cfg.DLQ.MaxAge
		cleanerCfg.DLQMaxCount = cfg.DLQ.MaxCount
		cleanerCfg.DLQInterval = cfg.DLQ.CleanupInterval
	}
	a.cleaner = queue.NewCleaner(a.tasks, cleanerCfg, logger.With("component", "cleaner"))
	if maxAge := cfg.Storage.Retention.CompletedMaxAge; out.sandbox != nil && maxAge > 0 {
		a.cleaner.AddPruner("sandbox captures", cfg.Storage.Retention.CleanupInterval, func(ctx context.Context) (int, error) {
			return out.sandbox.Clear(ctx, maxAge)
		})
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.collector, err = metrics.NewCollector(a.tasks.DB(), m, queueStats{a.tasks}, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.collector.SetActiveCalls(slots)
		metrics.SetGlobalCollector(a.collector)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	deps := api.Deps{
		Engine:     engine,
		Executions: store.Executions,
		Campaigns:  store.Campaigns,
		Members:    store.Members,
		Hours:      oracle,
		Scheduler:  a.scheduler,
		Leads:      store.Contacts,
		Calls:      store.Calls,
		Slots:      slots,
		Tasks:      a.tasks,
		Bus:        bus,
	}
	if out.sandbox != nil {
		deps.Sandbox = out.sandbox
	}
	a.apiServer = api.NewServer(deps, &cfg.API, logger)
	return nil
}

// newSlotStore opens the call reservation backend
func newSlotStore(ctx context.Context, cfg config.ConcurrencyConfig, tasks *queue.BoltStorage) (concurrency.Store, error) {
	if cfg.Backend == "redis" {
		store, err := concurrency.NewRedisStore(ctx, concurrency.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect call slot store: %w", err)
		}
		return store, nil
	}
	store, err := concurrency.NewBoltStore(tasks.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to create call slot store: %w", err)
	}
	return store, nil
}

// queueStats reports task queue sizes to the metrics collector
type queueStats struct {
	tasks *queue.BoltStorage
}

func (q queueStats) QueueStats(ctx context.Context) (*metrics.QueueStats, error) {
	s, err := q.tasks.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.QueueStats{
		Pending:  s.Pending,
		Running:  s.Running,
		Deferred: s.Deferred,
		Failed:   s.Failed,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting campaignd",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"providers", a.config.Providers.Mode,
		"scheduler", !a.config.Scheduler.Disabled,
	)

	ctx, cancel := ossignal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.processor.Start(ctx)
	a.cleaner.Start(ctx)
	if !a.config.Scheduler.Disabled {
		a.scheduler.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop producing work before the workers
	if !a.config.Scheduler.Disabled {
		a.scheduler.Stop()
	}
	a.processor.Stop()
	a.cleaner.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// close releases storage handles
func (a *App) close() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Error("signal mirror close error", "error", err)
		}
	}
	if a.slotStore != nil {
		if err := a.slotStore.Close(); err != nil {
			a.logger.Error("call slot store close error", "error", err)
		}
	}
	if err := a.tasks.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
