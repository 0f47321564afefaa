package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/dispatcher"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exportd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.ID != "exportd-1" {
		t.Errorf("expected default node id 'exportd-1', got %q", cfg.Node.ID)
	}
	if cfg.Storage.Backend != BackendBadger {
		t.Errorf("expected badger backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Scheduler.Timezone != "Europe/Paris" {
		t.Errorf("expected Europe/Paris, got %q", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.PollInterval.Duration() != 15*time.Second {
		t.Errorf("expected poll interval 15s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.Retry.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Scheduler.Retry.MaxRetries)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics to be enabled by default")
	}
	if cfg.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"missing node id", func(c *Config) { c.Node.ID = "" }, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
		{"badger without data dir", func(c *Config) { c.Storage.DataDir = "" }, true},
		{"memory without data dir", func(c *Config) { c.Storage.Backend = BackendMemory; c.Storage.DataDir = "" }, false},
		{"mongo without uri", func(c *Config) { c.Storage.Backend = BackendMongo; c.Storage.Mongo.URI = "" }, true},
		{"unknown timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, true},
		{"zero poll interval", func(c *Config) { c.Scheduler.PollInterval = 0 }, true},
		{"lease shorter than execution", func(c *Config) { c.Scheduler.Lease = Duration(time.Minute) }, true},
		{"no workers", func(c *Config) { c.Scheduler.MaxWorkers = 0 }, true},
		{"bad overflow policy", func(c *Config) { c.Scheduler.MonthOverflow = "wrap" }, true},
		{"bad retry mode", func(c *Config) { c.Scheduler.Retry.Mode = "forever" }, true},
		{"hold retry mode", func(c *Config) { c.Scheduler.Retry.Mode = "hold" }, false},
		{"mongo source without uri", func(c *Config) { c.Executor.Source.Type = SourceMongo }, true},
		{"no smtp host", func(c *Config) { c.Executor.SMTP.Host = "" }, true},
		{"dry run without smtp", func(c *Config) { c.Executor.SMTP.Host = ""; c.Executor.DryRun = true }, false},
		{"auth without keys", func(c *Config) { c.Server.Auth.Enabled = true }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad sample rate", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Load(t *testing.T) {
	t.Setenv("TEST_SMTP_PASSWORD", "s3cret")
	path := writeConfig(t, `
node:
  id: test-node

storage:
  backend: memory

scheduler:
  timezone: Europe/Paris
  poll_interval: 30s
  max_workers: 8
  month_overflow: skip
  retry:
    mode: backoff
    initial_interval: 2m
    max_interval: 1h
    multiplier: 3
    max_retries: 2

executor:
  timeout: 2m
  smtp:
    host: smtp.example.com
    port: 2525
    password: ${TEST_SMTP_PASSWORD}

server:
  address: 127.0.0.1:9080
  auth:
    enabled: true
    api_keys: [k1, k2]

logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.ID != "test-node" {
		t.Errorf("expected node id 'test-node', got %q", cfg.Node.ID)
	}
	if cfg.Scheduler.PollInterval.Duration() != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.MonthOverflow() != recurrence.OverflowSkip {
		t.Errorf("expected skip overflow, got %q", cfg.MonthOverflow())
	}
	if cfg.Executor.SMTP.Password != "s3cret" {
		t.Errorf("expected expanded smtp password, got %q", cfg.Executor.SMTP.Password)
	}
	if cfg.Executor.SMTP.From != "exports@localhost" {
		t.Errorf("unset fields should keep defaults, got from %q", cfg.Executor.SMTP.From)
	}

	d := cfg.DispatcherConfig()
	if d.NodeID != "test-node" || d.MaxWorkers != 8 {
		t.Errorf("unexpected dispatcher config %+v", d)
	}
	if d.Retry.InitialInterval != 2*time.Minute || d.Retry.MaxRetries != 2 || d.Retry.Mode != dispatcher.RetryBackoff {
		t.Errorf("unexpected retry policy %+v", d.Retry)
	}

	rc := cfg.RouterConfig()
	if !rc.AuthConfig.Enabled || len(rc.AuthConfig.APIKeys) != 2 {
		t.Errorf("unexpected auth config %+v", rc.AuthConfig)
	}
	if rc.RateLimiter == nil {
		t.Error("expected default rate limiter")
	}
}

func TestConfig_Load_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.ID != DefaultConfig().Node.ID {
		t.Errorf("expected defaults, got node id %q", cfg.Node.ID)
	}
}

func TestConfig_Load_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestConfig_Load_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestConfig_Load_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "scheduler:\n  month_overflow: wrap\n"))
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("EXPORTD_NODE_ID", "env-node")
	t.Setenv("EXPORTD_STORAGE_BACKEND", "memory")
	t.Setenv("EXPORTD_POLL_INTERVAL", "1m")
	t.Setenv("EXPORTD_MAX_WORKERS", "2")
	t.Setenv("EXPORTD_API_KEYS", "a, b ,")
	t.Setenv("EXPORTD_LOG_LEVEL", "warn")

	path := writeConfig(t, `
node:
  id: file-node
logging:
  level: info
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.ID != "env-node" {
		t.Errorf("expected node id 'env-node' from env, got %q", cfg.Node.ID)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected memory backend from env, got %q", cfg.Storage.Backend)
	}
	if cfg.Scheduler.PollInterval.Duration() != time.Minute {
		t.Errorf("expected poll interval 1m from env, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.MaxWorkers != 2 {
		t.Errorf("expected 2 workers from env, got %d", cfg.Scheduler.MaxWorkers)
	}
	if !cfg.Server.Auth.Enabled || len(cfg.Server.Auth.APIKeys) != 2 {
		t.Errorf("expected two api keys from env, got %v", cfg.Server.Auth.APIKeys)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level 'warn' from env, got %q", cfg.Logging.Level)
	}
}

func TestConfig_EnvOverrides_Invalid(t *testing.T) {
	t.Setenv("EXPORTD_MAX_WORKERS", "lots")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric EXPORTD_MAX_WORKERS")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("EXPORTD_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("EXPORTD_TEST_DOTENV", "")
	os.Unsetenv("EXPORTD_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("EXPORTD_TEST_DOTENV"); got != "loaded" {
		t.Errorf("expected variable from env file, got %q", got)
	}
}
