package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/foxzi/campaignd/internal/config"
	"github.com/foxzi/campaignd/internal/provider"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         filepath.Join(dir, "campaignd.db"),
			AutoMigrate: true,
		},
		Storage:       config.StorageConfig{Path: filepath.Join(dir, "tasks.db")},
		Dispatcher:    config.DispatcherConfig{DefaultBatchSize: 10, NextDayTime: "09:00"},
		BusinessHours: config.BusinessHoursConfig{Start: "09:00", End: "17:00", Timezone: "America/New_York"},
		Concurrency:   config.ConcurrencyConfig{Backend: "bolt", MaxConcurrentCalls: 5},
		Providers:     config.ProvidersConfig{Mode: "sandbox"},
		API:           config.APIConfig{ListenAddr: "127.0.0.1:0", APIKey: "secret"},
		Metrics:       config.MetricsConfig{Enabled: true, ListenAddr: "127.0.0.1:0", Path: "/metrics"},
		Logging:       config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func TestNew(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.collector == nil || a.metricsServer == nil {
		t.Error("metrics should be wired when enabled")
	}

	srv := httptest.NewServer(a.apiServer.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/sandbox", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/v1/sandbox error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/v1/sandbox = %d, want 200 in sandbox mode", resp.StatusCode)
	}
}

func TestNew_InvalidDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "nope"

	if _, err := New(cfg); err == nil {
		t.Error("New() should fail for an unknown database driver")
	}
}

func TestNewSenders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error: %v", err)
	}
	defer tasks.Close()

	tests := []struct {
		name      string
		providers config.ProvidersConfig
		sandbox   bool
		smtp      bool
		wantErr   bool
	}{
		{name: "sandbox", providers: config.ProvidersConfig{Mode: "sandbox"}, sandbox: true},
		{name: "http", providers: config.ProvidersConfig{Mode: "http", HTTP: config.HTTPProvider{BaseURL: "http://gw.test"}}},
		{name: "smtp", providers: config.ProvidersConfig{
			Mode: "smtp",
			HTTP: config.HTTPProvider{BaseURL: "http://gw.test"},
			SMTP: config.SMTPProvider{Host: "relay.test", Port: 587, From: "noreply@example.com"},
		}, smtp: true},
		{name: "smtp with missing DKIM key", providers: config.ProvidersConfig{
			Mode: "smtp",
			SMTP: config.SMTPProvider{Host: "relay.test", From: "noreply@example.com", DKIM: config.DKIMConfig{
				Enabled: true, Selector: "s", Domain: "example.com", KeyFile: filepath.Join(t.TempDir(), "missing.key"),
			}},
		}, wantErr: true},
		{name: "unknown", providers: config.ProvidersConfig{Mode: "pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newSenders(&config.Config{Providers: tt.providers}, tasks.DB(), logger)
			if tt.wantErr {
				if err == nil {
					t.Error("newSenders() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("newSenders() error: %v", err)
			}
			if out.email == nil || out.sms == nil || out.dialer == nil {
				t.Fatal("every channel should have a sender")
			}
			if (out.sandbox != nil) != tt.sandbox {
				t.Errorf("sandbox = %v, want %v", out.sandbox != nil, tt.sandbox)
			}
			if _, ok := out.email.(*provider.SMTPSender); ok != tt.smtp {
				t.Errorf("email via SMTP = %v, want %v", ok, tt.smtp)
			}
		})
	}
}

func TestQueueStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error: %v", err)
	}
	defer tasks.Close()

	ctx := context.Background()
	bus := signal.NewBus(tasks, logger)
	if _, err := bus.Emit(ctx, signal.WorkflowExecute, signal.ExecutePayload{ExecutionID: "exec-1"}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	stats, err := queueStats{tasks}.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats() error: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
}
