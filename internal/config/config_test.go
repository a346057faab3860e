package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  hostname: "campaigns.test.com"

database:
  driver: sqlite3
  dsn: "/tmp/campaignd-test.db"

queue:
  workers: 2
  retry_interval: 1m
  max_retries: 3
  poll_interval: 500ms

scheduler:
  interval: 1m

dispatcher:
  default_batch_size: 25
  next_day_time: "08:30"

business_hours:
  days: [monday, wednesday]
  start: "08:00"
  end: "18:00"
  timezone: "Europe/Berlin"

providers:
  mode: http
  http:
    base_url: "https://gateway.test.com"
    api_key: "gw-key"

api:
  listen_addr: ":9080"
  api_key: "test-api-key"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Hostname != "campaigns.test.com" {
		t.Errorf("Hostname = %v, want campaigns.test.com", cfg.Server.Hostname)
	}
	if cfg.Queue.Workers != 2 {
		t.Errorf("Queue.Workers = %v, want 2", cfg.Queue.Workers)
	}
	if cfg.Queue.RetryInterval != time.Minute {
		t.Errorf("Queue.RetryInterval = %v, want 1m", cfg.Queue.RetryInterval)
	}
	if cfg.Queue.PollInterval != 500*time.Millisecond {
		t.Errorf("Queue.PollInterval = %v, want 500ms", cfg.Queue.PollInterval)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Errorf("Scheduler.Interval = %v, want 1m", cfg.Scheduler.Interval)
	}
	if cfg.Dispatcher.DefaultBatchSize != 25 {
		t.Errorf("Dispatcher.DefaultBatchSize = %v, want 25", cfg.Dispatcher.DefaultBatchSize)
	}
	if cfg.Dispatcher.NextDayTime != "08:30" {
		t.Errorf("Dispatcher.NextDayTime = %v, want 08:30", cfg.Dispatcher.NextDayTime)
	}
	if len(cfg.BusinessHours.Days) != 2 || cfg.BusinessHours.Days[1] != "wednesday" {
		t.Errorf("BusinessHours.Days = %v, want [monday wednesday]", cfg.BusinessHours.Days)
	}
	if cfg.BusinessHours.Timezone != "Europe/Berlin" {
		t.Errorf("BusinessHours.Timezone = %v, want Europe/Berlin", cfg.BusinessHours.Timezone)
	}
	if cfg.Providers.Mode != "http" || cfg.Providers.HTTP.BaseURL != "https://gateway.test.com" {
		t.Errorf("Providers = %+v, want http gateway", cfg.Providers)
	}
	if cfg.API.APIKey != "test-api-key" {
		t.Errorf("API.APIKey = %v, want test-api-key", cfg.API.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
database:
  dsn: ":memory:"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %v, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("Queue.Workers = %v, want 4", cfg.Queue.Workers)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Queue.MaxRetries = %v, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("Scheduler.Interval = %v, want 5m", cfg.Scheduler.Interval)
	}
	if cfg.Dispatcher.DefaultBatchSize != 10 {
		t.Errorf("Dispatcher.DefaultBatchSize = %v, want 10", cfg.Dispatcher.DefaultBatchSize)
	}
	if cfg.BusinessHours.Start != "09:00" || cfg.BusinessHours.End != "17:00" {
		t.Errorf("BusinessHours = %s-%s, want 09:00-17:00", cfg.BusinessHours.Start, cfg.BusinessHours.End)
	}
	if cfg.BusinessHours.Timezone != "America/New_York" {
		t.Errorf("BusinessHours.Timezone = %v, want America/New_York", cfg.BusinessHours.Timezone)
	}
	if len(cfg.BusinessHours.Days) != 5 {
		t.Errorf("BusinessHours.Days = %v, want Mon-Fri", cfg.BusinessHours.Days)
	}
	if cfg.Concurrency.MaxConcurrentCalls != 10 {
		t.Errorf("Concurrency.MaxConcurrentCalls = %v, want 10", cfg.Concurrency.MaxConcurrentCalls)
	}
	if cfg.Concurrency.CallTimeout != time.Hour {
		t.Errorf("Concurrency.CallTimeout = %v, want 1h", cfg.Concurrency.CallTimeout)
	}
	if cfg.Providers.Mode != "sandbox" {
		t.Errorf("Providers.Mode = %v, want sandbox", cfg.Providers.Mode)
	}
	if cfg.Providers.SMTP.TLS != "starttls" {
		t.Errorf("Providers.SMTP.TLS = %v, want starttls", cfg.Providers.SMTP.TLS)
	}
	if !cfg.DLQ.Enabled {
		t.Error("DLQ.Enabled = false, want true")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "/from/yaml.db"},
		API:      APIConfig{ListenAddr: ":8080"},
	}

	lookuper := envconfig.MapLookuper(map[string]string{
		"CAMPAIGND_DATABASE_DSN":                 "/from/env.db",
		"CAMPAIGND_QUEUE_WORKERS":                "7",
		"CAMPAIGND_CONCURRENCY_REDIS_ADDRESS":    "redis:6379",
		"CAMPAIGND_SCHEDULER_INTERVAL":           "30s",
		"CAMPAIGND_BUSINESS_HOURS_DAYS":          "monday,friday",
		"CAMPAIGND_PROVIDERS_SMTP_DKIM_SELECTOR": "mail",
		"DATABASE_DRIVER":                        "postgres",
	})

	if err := cfg.applyEnv(context.Background(), lookuper); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}

	if cfg.Database.DSN != "/from/env.db" {
		t.Errorf("Database.DSN = %v, want /from/env.db", cfg.Database.DSN)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %v, want sqlite3", cfg.Database.Driver)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.Queue.Workers != 7 {
		t.Errorf("Queue.Workers = %v, want 7", cfg.Queue.Workers)
	}
	if cfg.Concurrency.Redis.Address != "redis:6379" {
		t.Errorf("Concurrency.Redis.Address = %v, want redis:6379", cfg.Concurrency.Redis.Address)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 30s", cfg.Scheduler.Interval)
	}
	if len(cfg.BusinessHours.Days) != 2 || cfg.BusinessHours.Days[0] != "monday" {
		t.Errorf("BusinessHours.Days = %v, want [monday friday]", cfg.BusinessHours.Days)
	}
	if cfg.Providers.SMTP.DKIM.Selector != "mail" {
		t.Errorf("Providers.SMTP.DKIM.Selector = %v, want mail", cfg.Providers.SMTP.DKIM.Selector)
	}
}

func TestLoadDotEnv(t *testing.T) {
	cfgPath := writeConfig(t, "database:\n  dsn: \"/from/yaml.db\"\n")
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := os.WriteFile(envPath, []byte("CAMPAIGND_API_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CAMPAIGND_API_API_KEY") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.APIKey != "from-dotenv" {
		t.Errorf("API.APIKey = %v, want from-dotenv", cfg.API.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid driver",
			modify:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "invalid next day time",
			modify:  func(c *Config) { c.Dispatcher.NextDayTime = "9am" },
			wantErr: "next_day_time",
		},
		{
			name:    "start after end",
			modify:  func(c *Config) { c.BusinessHours.Start = "18:00" },
			wantErr: "business_hours.start must be before",
		},
		{
			name:    "unknown timezone",
			modify:  func(c *Config) { c.BusinessHours.Timezone = "Mars/Olympus" },
			wantErr: "business_hours.timezone",
		},
		{
			name:    "invalid concurrency backend",
			modify:  func(c *Config) { c.Concurrency.Backend = "memcached" },
			wantErr: "concurrency.backend",
		},
		{
			name:    "http provider without base url",
			modify:  func(c *Config) { c.Providers.Mode = "http" },
			wantErr: "providers.http.base_url",
		},
		{
			name: "smtp provider without from",
			modify: func(c *Config) {
				c.Providers.Mode = "smtp"
				c.Providers.SMTP.Host = "relay.test.com"
				c.Providers.HTTP.BaseURL = "https://gateway.test.com"
			},
			wantErr: "providers.smtp.from",
		},
		{
			name: "invalid smtp tls mode",
			modify: func(c *Config) {
				c.Providers.Mode = "smtp"
				c.Providers.SMTP.Host = "relay.test.com"
				c.Providers.SMTP.From = "news@test.com"
				c.Providers.HTTP.BaseURL = "https://gateway.test.com"
				c.Providers.SMTP.TLS = "ssl3"
			},
			wantErr: "providers.smtp.tls",
		},
		{
			name: "dkim without key",
			modify: func(c *Config) {
				c.Providers.Mode = "smtp"
				c.Providers.SMTP.Host = "relay.test.com"
				c.Providers.SMTP.From = "news@test.com"
				c.Providers.HTTP.BaseURL = "https://gateway.test.com"
				c.Providers.SMTP.DKIM = DKIMConfig{Enabled: true, Selector: "mail", Domain: "test.com"}
			},
			wantErr: "dkim",
		},
		{
			name:    "sandbox failure rate out of range",
			modify:  func(c *Config) { c.Providers.Sandbox.FailureRate = 1.5 },
			wantErr: "failure_rate",
		},
		{
			name:    "unknown provider mode",
			modify:  func(c *Config) { c.Providers.Mode = "carrier-pigeon" },
			wantErr: "providers.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Database: DatabaseConfig{DSN: ":memory:"}}
			cfg.setDefaults()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
