package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/campaignd/internal/businesshours"
)

// EnvPrefix is the prefix for environment overrides, e.g. CAMPAIGND_DATABASE_DSN
const EnvPrefix = "CAMPAIGND_"

// Config represents the main configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server" env:",prefix=SERVER_"`
	Database      DatabaseConfig      `yaml:"database" env:",prefix=DATABASE_"`
	Storage       StorageConfig       `yaml:"storage" env:",prefix=STORAGE_"`
	Queue         QueueConfig         `yaml:"queue" env:",prefix=QUEUE_"`
	DLQ           DLQConfig           `yaml:"dlq" env:",prefix=DLQ_"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" env:",prefix=SCHEDULER_"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher" env:",prefix=DISPATCHER_"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours" env:",prefix=BUSINESS_HOURS_"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency" env:",prefix=CONCURRENCY_"`
	Providers     ProvidersConfig     `yaml:"providers" env:",prefix=PROVIDERS_"`
	Signals       SignalsConfig       `yaml:"signals" env:",prefix=SIGNALS_"`
	API           APIConfig           `yaml:"api" env:",prefix=API_"`
	Metrics       MetricsConfig       `yaml:"metrics" env:",prefix=METRICS_"`
	Logging       LoggingConfig       `yaml:"logging" env:",prefix=LOGGING_"`
}

// ServerConfig contains general server settings
type ServerConfig struct {
	Hostname string `yaml:"hostname" env:"HOSTNAME"`
}

// DatabaseConfig contains relational store settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // sqlite3, postgres
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// StorageConfig contains bbolt storage settings
type StorageConfig struct {
	Path      string          `yaml:"path" env:"PATH"`
	Retention RetentionConfig `yaml:"retention" env:",prefix=RETENTION_"`
}

// RetentionConfig contains finished task retention settings
type RetentionConfig struct {
	CompletedMaxAge time.Duration `yaml:"completed_max_age" env:"COMPLETED_MAX_AGE"` // 0 = keep forever
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// QueueConfig contains task processor settings
type QueueConfig struct {
	Workers       int           `yaml:"workers" env:"WORKERS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	TaskTimeout   time.Duration `yaml:"task_timeout" env:"TASK_TIMEOUT"`
}

// DLQConfig contains Dead Letter Queue settings
type DLQConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	MaxAge          time.Duration `yaml:"max_age" env:"MAX_AGE"`     // 0 = keep forever
	MaxCount        int           `yaml:"max_count" env:"MAX_COUNT"` // 0 = unlimited
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// SchedulerConfig contains campaign sweep settings
type SchedulerConfig struct {
	Disabled bool          `yaml:"disabled" env:"DISABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// DispatcherConfig contains batch dispatch settings
type DispatcherConfig struct {
	DefaultBatchSize int    `yaml:"default_batch_size" env:"DEFAULT_BATCH_SIZE"`
	NextDayTime      string `yaml:"next_day_time" env:"NEXT_DAY_TIME"` // HH:MM, tenant local
}

// BusinessHoursConfig contains default business hours for tenants without settings
type BusinessHoursConfig struct {
	Days     []string `yaml:"days" env:"DAYS"`
	Start    string   `yaml:"start" env:"START"`
	End      string   `yaml:"end" env:"END"`
	Timezone string   `yaml:"timezone" env:"TIMEZONE"`
}

// ConcurrencyConfig contains call concurrency settings
type ConcurrencyConfig struct {
	Backend            string        `yaml:"backend" env:"BACKEND"` // bolt, redis
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls" env:"MAX_CONCURRENT_CALLS"`
	CallTimeout        time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	Redis              RedisConfig   `yaml:"redis" env:",prefix=REDIS_"`
}

// RedisConfig contains redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address" env:"ADDRESS"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// ProvidersConfig contains communication provider settings
type ProvidersConfig struct {
	Mode    string         `yaml:"mode" env:"MODE"` // http, smtp, sandbox
	HTTP    HTTPProvider   `yaml:"http" env:",prefix=HTTP_"`
	SMTP    SMTPProvider   `yaml:"smtp" env:",prefix=SMTP_"`
	Sandbox SandboxOptions `yaml:"sandbox" env:",prefix=SANDBOX_"`
}

// HTTPProvider contains settings of the JSON communication gateway
type HTTPProvider struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"BURST"`
}

// SMTPProvider contains settings of the SMTP relay used for email steps
type SMTPProvider struct {
	Host          string        `yaml:"host" env:"HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	Username      string        `yaml:"username" env:"USERNAME"`
	Password      string        `yaml:"password" env:"PASSWORD"`
	From          string        `yaml:"from" env:"FROM"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	TLS           string        `yaml:"tls" env:"TLS"` // starttls, tls (implicit) or none
	TLSSkipVerify bool          `yaml:"tls_skip_verify" env:"TLS_SKIP_VERIFY"`
	DKIM          DKIMConfig    `yaml:"dkim" env:",prefix=DKIM_"`
}

// DKIMConfig contains DKIM settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Selector string `yaml:"selector" env:"SELECTOR"`
	Domain   string `yaml:"domain" env:"DOMAIN"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// SandboxOptions contains sandbox provider settings
type SandboxOptions struct {
	FailureRate float64 `yaml:"failure_rate" env:"FAILURE_RATE"` // 0.0 - 1.0
}

// SignalsConfig contains the optional AMQP mirror settings
type SignalsConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange" env:"EXCHANGE"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	APIKeyHash   string        `yaml:"api_key_hash" env:"API_KEY_HASH"` // bcrypt hash, alternative to api_key
	AllowedIPs   []string      `yaml:"allowed_ips" env:"ALLOWED_IPS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	ListenAddr    string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Path          string        `yaml:"path" env:"PATH"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	AllowedIPs    []string      `yaml:"allowed_ips" env:"ALLOWED_IPS"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}


// Load loads configuration from a YAML file, a sibling .env file and the environment
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cfg.applyEnv(context.Background(), envconfig.OsLookuper()); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays CAMPAIGND_* variables on top of the file values
func (c *Config) applyEnv(ctx context.Context, lookuper envconfig.Lookuper) error {
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           c,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	})
	if err != nil {
		return fmt.Errorf("failed to process environment config: %w", err)
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = "/var/lib/campaignd/campaignd.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/campaignd/tasks.db"
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.RetryInterval == 0 {
		c.Queue.RetryInterval = 30 * time.Second
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 5
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.TaskTimeout == 0 {
		c.Queue.TaskTimeout = 2 * time.Minute
	}

	// If nothing is set, enable DLQ by default
	if !c.DLQ.Enabled && c.DLQ.MaxAge == 0 && c.DLQ.MaxCount == 0 && c.DLQ.CleanupInterval == 0 {
		c.DLQ.Enabled = true
	}
	if c.DLQ.CleanupInterval == 0 {
		c.DLQ.CleanupInterval = time.Hour
	}

	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 5 * time.Minute
	}

	if c.Dispatcher.DefaultBatchSize == 0 {
		c.Dispatcher.DefaultBatchSize = 10
	}
	if c.Dispatcher.NextDayTime == "" {
		c.Dispatcher.NextDayTime = "09:00"
	}

	hours := businesshours.Default()
	if len(c.BusinessHours.Days) == 0 {
		c.BusinessHours.Days = hours.Days
	}
	if c.BusinessHours.Start == "" {
		c.BusinessHours.Start = hours.Start
	}
	if c.BusinessHours.End == "" {
		c.BusinessHours.End = hours.End
	}
	if c.BusinessHours.Timezone == "" {
		c.BusinessHours.Timezone = hours.Timezone
	}

	if c.Concurrency.Backend == "" {
		c.Concurrency.Backend = "bolt"
	}
	if c.Concurrency.MaxConcurrentCalls == 0 {
		c.Concurrency.MaxConcurrentCalls = 10
	}
	if c.Concurrency.CallTimeout == 0 {
		c.Concurrency.CallTimeout = time.Hour
	}
	if c.Concurrency.Redis.Address == "" {
		c.Concurrency.Redis.Address = "localhost:6379"
	}

	if c.Providers.Mode == "" {
		c.Providers.Mode = "sandbox"
	}
	if c.Providers.HTTP.Timeout == 0 {
		c.Providers.HTTP.Timeout = 30 * time.Second
	}
	if c.Providers.HTTP.RequestsPerSecond == 0 {
		c.Providers.HTTP.RequestsPerSecond = 20
	}
	if c.Providers.HTTP.Burst == 0 {
		c.Providers.HTTP.Burst = 5
	}
	if c.Providers.SMTP.Port == 0 {
		c.Providers.SMTP.Port = 587
	}
	if c.Providers.SMTP.Timeout == 0 {
		c.Providers.SMTP.Timeout = 30 * time.Second
	}
	if c.Providers.SMTP.TLS == "" {
		c.Providers.SMTP.TLS = "starttls"
		if c.Providers.SMTP.Port == 465 {
			c.Providers.SMTP.TLS = "tls"
		}
	}

	if c.Signals.Exchange == "" {
		c.Signals.Exchange = "campaignd.signals"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite3": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database.driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if _, err := businesshours.ParseClock(c.Dispatcher.NextDayTime); err != nil {
		return fmt.Errorf("invalid dispatcher.next_day_time: %s (must be HH:MM)", c.Dispatcher.NextDayTime)
	}

	if err := c.validateBusinessHours(); err != nil {
		return err
	}

	validBackends := map[string]bool{"bolt": true, "redis": true}
	if !validBackends[c.Concurrency.Backend] {
		return fmt.Errorf("invalid concurrency.backend: %s (must be bolt or redis)", c.Concurrency.Backend)
	}

	return c.validateProviders()
}

// validateBusinessHours validates default business hours
func (c *Config) validateBusinessHours() error {
	bh := c.BusinessHours
	start, err := businesshours.ParseClock(bh.Start)
	if err != nil {
		return fmt.Errorf("invalid business_hours.start: %s (must be HH:MM)", bh.Start)
	}
	end, err := businesshours.ParseClock(bh.End)
	if err != nil {
		return fmt.Errorf("invalid business_hours.end: %s (must be HH:MM)", bh.End)
	}
	if start >= end {
		return fmt.Errorf("business_hours.start must be before business_hours.end")
	}
	if _, err := time.LoadLocation(bh.Timezone); err != nil {
		return fmt.Errorf("invalid business_hours.timezone: %w", err)
	}
	return nil
}

// validateProviders validates communication provider configuration
func (c *Config) validateProviders() error {
	switch c.Providers.Mode {
	case "sandbox":
		if c.Providers.Sandbox.FailureRate < 0 || c.Providers.Sandbox.FailureRate > 1 {
			return fmt.Errorf("providers.sandbox.failure_rate must be between 0 and 1")
		}
	case "http":
		if c.Providers.HTTP.BaseURL == "" {
			return fmt.Errorf("providers.http.base_url is required when mode is http")
		}
	case "smtp":
		if c.Providers.SMTP.Host == "" {
			return fmt.Errorf("providers.smtp.host is required when mode is smtp")
		}
		if c.Providers.SMTP.From == "" {
			return fmt.Errorf("providers.smtp.from is required when mode is smtp")
		}
		switch c.Providers.SMTP.TLS {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("invalid providers.smtp.tls: %s (must be starttls, tls, or none)", c.Providers.SMTP.TLS)
		}
		if c.Providers.HTTP.BaseURL == "" {
			return fmt.Errorf("providers.http.base_url is required for sms and voice when mode is smtp")
		}
		dkim := c.Providers.SMTP.DKIM
		if dkim.Enabled && (dkim.Selector == "" || dkim.Domain == "" || dkim.KeyFile == "") {
			return fmt.Errorf("providers.smtp.dkim requires selector, domain and key_file when enabled")
		}
	default:
		return fmt.Errorf("invalid providers.mode: %s (must be http, smtp, or sandbox)", c.Providers.Mode)
	}
	return nil
}
