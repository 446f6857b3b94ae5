package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from defaults, an optional YAML file, and
// environment variables, in that order of precedence.
type Loader struct {
	path   string
	getenv func(string) string
}

// NewLoader creates a loader. path may be empty for ENV-only operation.
func NewLoader(path string) *Loader {
	return &Loader{path: path, getenv: os.Getenv}
}

// Load assembles the configuration. The returned config is validated.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return Config{}, err
		}
	}
	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen:   ":8080",
		DataDir:  "./data",
		LogLevel: "info",
		Portal: PortalConfig{
			Timeout:   30 * time.Second,
			RateLimit: 2,
			Burst:     2,
		},
		Refresh: RefreshConfig{
			Interval:      30 * time.Minute,
			Timeout:       5 * time.Minute,
			KeepSnapshots: 30,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     10 * time.Minute,
		},
		API: APIConfig{
			RateLimitPerMinute: 120,
			RequestTimeout:     60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			SampleRatio: 1.0,
		},
	}
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", l.path, err)
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Listen = l.envString("FDUSDK_LISTEN", cfg.Listen)
	cfg.DataDir = l.envString("FDUSDK_DATA", cfg.DataDir)
	cfg.LogLevel = l.envString("FDUSDK_LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = l.envString("FDUSDK_API_TOKEN", cfg.APIToken)

	cfg.Credentials.UID = l.envString("FDUSDK_UID", cfg.Credentials.UID)
	cfg.Credentials.Password = l.envString("FDUSDK_PASSWORD", cfg.Credentials.Password)

	cfg.Portal.UISBase = l.envString("FDUSDK_UIS_BASE", cfg.Portal.UISBase)
	cfg.Portal.Timeout = l.envDuration("FDUSDK_PORTAL_TIMEOUT", cfg.Portal.Timeout)
	cfg.Portal.RateLimit = l.envFloat("FDUSDK_PORTAL_RATE_LIMIT", cfg.Portal.RateLimit)
	cfg.Portal.Burst = l.envInt("FDUSDK_PORTAL_BURST", cfg.Portal.Burst)

	cfg.Refresh.Interval = l.envDuration("FDUSDK_REFRESH_INTERVAL", cfg.Refresh.Interval)
	cfg.Refresh.Timeout = l.envDuration("FDUSDK_REFRESH_TIMEOUT", cfg.Refresh.Timeout)
	cfg.Refresh.KeepSnapshots = l.envInt("FDUSDK_REFRESH_KEEP", cfg.Refresh.KeepSnapshots)

	cfg.Cache.Backend = l.envString("FDUSDK_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = l.envDuration("FDUSDK_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisAddr = l.envString("FDUSDK_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = l.envString("FDUSDK_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = l.envInt("FDUSDK_REDIS_DB", cfg.Cache.RedisDB)

	cfg.API.RateLimitPerMinute = l.envInt("FDUSDK_API_RATE_LIMIT", cfg.API.RateLimitPerMinute)
	cfg.API.RequestTimeout = l.envDuration("FDUSDK_API_TIMEOUT", cfg.API.RequestTimeout)

	cfg.Telemetry.Enabled = l.envBool("FDUSDK_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("FDUSDK_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Protocol = l.envString("FDUSDK_OTEL_PROTOCOL", cfg.Telemetry.Protocol)
	cfg.Telemetry.SampleRatio = l.envFloat("FDUSDK_OTEL_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)
}

func (l *Loader) envString(key, fallback string) string {
	if v := l.getenv(key); v != "" {
		return v
	}
	return fallback
}

func (l *Loader) envInt(key string, fallback int) int {
	if v := l.getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (l *Loader) envFloat(key string, fallback float64) float64 {
	if v := l.getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (l *Loader) envBool(key string, fallback bool) bool {
	if v := l.getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (l *Loader) envDuration(key string, fallback time.Duration) time.Duration {
	if v := l.getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
