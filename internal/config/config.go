// Package config loads the service configuration from an optional YAML
// file with environment variable overrides. Every knob has a working
// default so the service runs with no configuration at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "gamidash/pkg/config"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Health    HealthConfig    `yaml:"health"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes"`
}

// UpstreamConfig controls the gamification backend client.
type UpstreamConfig struct {
	BaseURL           string  `yaml:"base_url"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	HealthPath        string  `yaml:"health_path"`
}

// CacheConfig controls the fallback cache.
type CacheConfig struct {
	MaxSize      int    `yaml:"max_size"`
	DefaultTTLMs int    `yaml:"default_ttl_ms"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// HealthConfig controls the health monitor.
type HealthConfig struct {
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	ProbeTimeoutMs  int `yaml:"probe_timeout_ms"`
	ProbeRetries    int `yaml:"probe_retries"`
}

// RateLimitConfig controls the inbound guard.
type RateLimitConfig struct {
	MaxRequests       int `yaml:"max_requests"`
	WindowMs          int `yaml:"window_ms"`
	CleanupIntervalMs int `yaml:"cleanup_interval_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ShutdownTimeoutMs: 10_000,
			MaxBodyBytes:      1 << 20,
		},
		Upstream: UpstreamConfig{
			BaseURL:           "http://localhost:9000",
			TimeoutMs:         10_000,
			RequestsPerSecond: 20,
			Burst:             40,
			HealthPath:        "/status",
		},
		Cache: CacheConfig{
			MaxSize:      1000,
			DefaultTTLMs: 300_000,
		},
		Health: HealthConfig{
			SweepIntervalMs: 30_000,
			ProbeTimeoutMs:  5_000,
			ProbeRetries:    2,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:       100,
			WindowMs:          60_000,
			CleanupIntervalMs: 300_000,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment overrides, then validation.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		// #nosec G304 -- path comes from the operator's environment, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = pkgconfig.GetEnvString("SERVER_ADDR", cfg.Server.Addr)
	cfg.Upstream.BaseURL = pkgconfig.GetEnvString("UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.TimeoutMs = pkgconfig.GetEnvInt("UPSTREAM_TIMEOUT_MS", cfg.Upstream.TimeoutMs)
	cfg.Cache.MaxSize = pkgconfig.GetEnvInt("CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.DefaultTTLMs = pkgconfig.GetEnvInt("CACHE_DEFAULT_TTL_MS", cfg.Cache.DefaultTTLMs)
	cfg.Cache.SnapshotPath = pkgconfig.GetEnvString("CACHE_SNAPSHOT_PATH", cfg.Cache.SnapshotPath)
	cfg.Health.SweepIntervalMs = pkgconfig.GetEnvInt("HEALTH_SWEEP_INTERVAL_MS", cfg.Health.SweepIntervalMs)
	cfg.RateLimit.MaxRequests = pkgconfig.GetEnvInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.WindowMs = pkgconfig.GetEnvInt("RATE_LIMIT_WINDOW_MS", cfg.RateLimit.WindowMs)
}

// Validate checks that every duration knob is positive and sizes make sense.
func (c Config) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"server.shutdown_timeout_ms", c.ShutdownTimeout()},
		{"upstream.timeout_ms", c.UpstreamTimeout()},
		{"cache.default_ttl_ms", c.CacheDefaultTTL()},
		{"health.sweep_interval_ms", c.HealthSweepInterval()},
		{"health.probe_timeout_ms", c.HealthProbeTimeout()},
		{"rate_limit.window_ms", c.RateLimitWindow()},
		{"rate_limit.cleanup_interval_ms", c.CleanupInterval()},
	}
	for _, check := range checks {
		if err := pkgconfig.ValidatePositiveDuration(check.d); err != nil {
			return fmt.Errorf("%s: %w", check.name, err)
		}
	}

	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.Health.ProbeRetries < 0 {
		return fmt.Errorf("health.probe_retries cannot be negative, got %d", c.Health.ProbeRetries)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Duration accessors convert the millisecond knobs.

func (c Config) ShutdownTimeout() time.Duration     { return ms(c.Server.ShutdownTimeoutMs) }
func (c Config) UpstreamTimeout() time.Duration     { return ms(c.Upstream.TimeoutMs) }
func (c Config) CacheDefaultTTL() time.Duration     { return ms(c.Cache.DefaultTTLMs) }
func (c Config) HealthSweepInterval() time.Duration { return ms(c.Health.SweepIntervalMs) }
func (c Config) HealthProbeTimeout() time.Duration  { return ms(c.Health.ProbeTimeoutMs) }
func (c Config) RateLimitWindow() time.Duration     { return ms(c.RateLimit.WindowMs) }
func (c Config) CleanupInterval() time.Duration     { return ms(c.RateLimit.CleanupIntervalMs) }
