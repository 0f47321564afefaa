// Package config provides configuration management for exportd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/api"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/dispatcher"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/executor"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/tracing"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/duration"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXPORTD_"

// Storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Report data sources.
const (
	SourceMongo  = "mongo"
	SourceSample = "sample"
)

// Config represents the complete exportd configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   tracing.Config  `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this process among dispatchers sharing a store.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// StorageConfig selects and configures the schedule store.
type StorageConfig struct {
	Backend string           `yaml:"backend"`
	DataDir string           `yaml:"data_dir"`
	Mongo   MongoStoreConfig `yaml:"mongo"`
}

// MongoStoreConfig contains MongoDB schedule store settings.
type MongoStoreConfig struct {
	URI            string   `yaml:"uri"`
	Database       string   `yaml:"database"`
	Collection     string   `yaml:"collection"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SchedulerConfig contains dispatcher and recurrence settings.
type SchedulerConfig struct {
	Timezone      string      `yaml:"timezone"`
	PollInterval  Duration    `yaml:"poll_interval"`
	Lease         Duration    `yaml:"lease"`
	MaxWorkers    int         `yaml:"max_workers"`
	CommitTimeout Duration    `yaml:"commit_timeout"`
	MonthOverflow string      `yaml:"month_overflow"`
	Retry         RetryConfig `yaml:"retry"`
}

// RetryConfig contains the failure retry policy.
type RetryConfig struct {
	Mode            string   `yaml:"mode"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
	MaxRetries      int      `yaml:"max_retries"`
}

// ExecutorConfig contains report generation and delivery settings.
type ExecutorConfig struct {
	Timeout         Duration            `yaml:"timeout"`
	DryRun          bool                `yaml:"dry_run"`
	ExcelLicenseKey string              `yaml:"excel_license_key"`
	Breaker         BreakerConfig       `yaml:"breaker"`
	SMTP            executor.SMTPConfig `yaml:"smtp"`
	Source          SourceConfig        `yaml:"source"`
}

// BreakerConfig contains executor circuit breaker settings.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	Timeout             Duration `yaml:"timeout"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
}

// SourceConfig selects where report rows come from.
type SourceConfig struct {
	Type        string                    `yaml:"type"`
	MongoURI    string                    `yaml:"mongo_uri"`
	Database    string                    `yaml:"database"`
	Collections executor.MongoCollections `yaml:"collections"`
	MaxRows     int64                     `yaml:"max_rows"`
}

// ServerConfig contains admin HTTP server settings.
type ServerConfig struct {
	Address         string          `yaml:"address"`
	ReadTimeout     Duration        `yaml:"read_timeout"`
	WriteTimeout    Duration        `yaml:"write_timeout"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains API key authentication settings.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig contains per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	BurstSize         int      `yaml:"burst_size"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // json or console
	Output string        `yaml:"output"` // stdout or file
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig contains rotating log file settings.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	d := dispatcher.DefaultConfig()
	retry := dispatcher.DefaultRetryPolicy()
	breaker := executor.DefaultBreakerConfig()
	rate := api.DefaultRateLimitConfig()

	return &Config{
		Node: NodeConfig{ID: "exportd-1"},
		Storage: StorageConfig{
			Backend: BackendBadger,
			DataDir: "./data",
			Mongo: MongoStoreConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "exportd",
				Collection:     "export_schedules",
				ConnectTimeout: Duration(10 * time.Second),
			},
		},
		Scheduler: SchedulerConfig{
			Timezone:      clock.DefaultZone,
			PollInterval:  Duration(d.PollInterval),
			Lease:         Duration(d.Lease),
			MaxWorkers:    d.MaxWorkers,
			CommitTimeout: Duration(d.CommitTimeout),
			MonthOverflow: string(recurrence.OverflowClamp),
			Retry: RetryConfig{
				Mode:            string(retry.Mode),
				InitialInterval: Duration(retry.InitialInterval),
				MaxInterval:     Duration(retry.MaxInterval),
				Multiplier:      retry.Multiplier,
				MaxRetries:      retry.MaxRetries,
			},
		},
		Executor: ExecutorConfig{
			Timeout: Duration(executor.DefaultTimeout),
			Breaker: BreakerConfig{
				Enabled:             breaker.Enabled,
				ConsecutiveFailures: breaker.ConsecutiveFailures,
				Timeout:             Duration(breaker.Timeout),
				MaxRequests:         breaker.MaxRequests,
				Interval:            Duration(breaker.Interval),
			},
			SMTP: executor.SMTPConfig{
				Host: "localhost",
				Port: 587,
				From: "exports@localhost",
			},
			Source: SourceConfig{
				Type:        SourceSample,
				Database:    "store",
				Collections: executor.DefaultMongoCollections(),
				MaxRows:     10000,
			},
		},
		Server: ServerConfig{
			Address:         "0.0.0.0:8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			RateLimit: RateLimitConfig{
				Enabled:           rate.Enabled,
				RequestsPerSecond: rate.RequestsPerSecond,
				BurstSize:         rate.BurstSize,
				IdleTimeout:       Duration(rate.IdleTimeout),
			},
		},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: tracing.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: LogFileConfig{
				Path:       "./logs/exportd.log",
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load loads configuration from a file. An empty path yields the defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables
		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies EXPORTD_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := getenv("NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv("MONGO_URI"); v != "" {
		c.Storage.Mongo.URI = v
	}
	if v := getenv("TIMEZONE"); v != "" {
		c.Scheduler.Timezone = v
	}
	if v := getenv("POLL_INTERVAL"); v != "" {
		d, err := duration.Parse(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.Scheduler.PollInterval = d
	}
	if v := getenv("MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_WORKERS: %w", EnvPrefix, err)
		}
		c.Scheduler.MaxWorkers = n
	}
	if v := getenv("SOURCE_MONGO_URI"); v != "" {
		c.Executor.Source.MongoURI = v
	}
	if v := getenv("SMTP_HOST"); v != "" {
		c.Executor.SMTP.Host = v
	}
	if v := getenv("SMTP_USERNAME"); v != "" {
		c.Executor.SMTP.Username = v
	}
	if v := getenv("SMTP_PASSWORD"); v != "" {
		c.Executor.SMTP.Password = v
	}
	if v := getenv("EXCEL_LICENSE_KEY"); v != "" {
		c.Executor.ExcelLicenseKey = v
	}
	if v := getenv("HTTP_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := getenv("API_KEYS"); v != "" {
		c.Server.Auth.APIKeys = splitList(v)
		c.Server.Auth.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the badger backend")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" || c.Storage.Mongo.Database == "" {
			return fmt.Errorf("storage.mongo.uri and storage.mongo.database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.Lease <= c.Executor.Timeout {
		return fmt.Errorf("scheduler.lease must exceed executor.timeout")
	}
	if c.Scheduler.MaxWorkers < 1 {
		return fmt.Errorf("scheduler.max_workers must be at least 1")
	}
	if _, err := recurrence.ParseMonthOverflow(c.Scheduler.MonthOverflow); err != nil {
		return fmt.Errorf("scheduler.month_overflow: %w", err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("scheduler.retry: %w", err)
	}

	switch c.Executor.Source.Type {
	case SourceSample:
	case SourceMongo:
		if c.Executor.Source.MongoURI == "" {
			return fmt.Errorf("executor.source.mongo_uri is required for the mongo source")
		}
	default:
		return fmt.Errorf("unknown executor.source.type %q", c.Executor.Source.Type)
	}
	if !c.Executor.DryRun && c.Executor.SMTP.Host == "" {
		return fmt.Errorf("executor.smtp.host is required unless executor.dry_run is set")
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.Auth.Enabled && len(c.Server.Auth.APIKeys) == 0 {
		return fmt.Errorf("server.auth.api_keys is required when auth is enabled")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		return fmt.Errorf("logging.file.path is required for file output")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

// RetryPolicy returns the dispatcher retry policy.
func (c *Config) RetryPolicy() dispatcher.RetryPolicy {
	r := c.Scheduler.Retry
	return dispatcher.RetryPolicy{
		Mode:            dispatcher.RetryMode(r.Mode),
		InitialInterval: r.InitialInterval.Duration(),
		MaxInterval:     r.MaxInterval.Duration(),
		Multiplier:      r.Multiplier,
		MaxRetries:      r.MaxRetries,
	}
}

// DispatcherConfig returns the dispatcher settings.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		NodeID:        c.Node.ID,
		PollInterval:  c.Scheduler.PollInterval.Duration(),
		Lease:         c.Scheduler.Lease.Duration(),
		MaxWorkers:    c.Scheduler.MaxWorkers,
		CommitTimeout: c.Scheduler.CommitTimeout.Duration(),
		Retry:         c.RetryPolicy(),
	}
}

// MonthOverflow returns the monthly overflow policy. Validate has checked it.
func (c *Config) MonthOverflow() recurrence.MonthOverflow {
	p, _ := recurrence.ParseMonthOverflow(c.Scheduler.MonthOverflow)
	return p
}

// BreakerConfig returns the executor circuit breaker settings.
func (c *Config) BreakerConfig() executor.BreakerConfig {
	b := c.Executor.Breaker
	return executor.BreakerConfig{
		Enabled:             b.Enabled,
		ConsecutiveFailures: b.ConsecutiveFailures,
		Timeout:             b.Timeout.Duration(),
		MaxRequests:         b.MaxRequests,
		Interval:            b.Interval.Duration(),
	}
}

// MongoOptions returns the MongoDB schedule store options.
func (c *Config) MongoOptions() storage.MongoOptions {
	m := c.Storage.Mongo
	return storage.MongoOptions{
		URI:            m.URI,
		Database:       m.Database,
		Collection:     m.Collection,
		ConnectTimeout: m.ConnectTimeout.Duration(),
	}
}

// RouterConfig returns the admin API router settings.
func (c *Config) RouterConfig() api.RouterConfig {
	rl := c.Server.RateLimit
	rc := api.RouterConfig{
		AllowedOrigins: c.Server.AllowedOrigins,
		AuthConfig: api.AuthConfig{
			Enabled: c.Server.Auth.Enabled,
			APIKeys: c.Server.Auth.APIKeys,
		},
		RequestTimeout: c.Server.WriteTimeout.Duration(),
	}
	if rl.Enabled {
		rc.RateLimiter = api.NewRateLimiter(api.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: rl.RequestsPerSecond,
			BurstSize:         rl.BurstSize,
			IdleTimeout:       rl.IdleTimeout.Duration(),
		})
	}
	return rc
}
