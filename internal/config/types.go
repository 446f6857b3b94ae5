// Package config loads and validates daemon configuration.
// Precedence: built-in defaults < YAML file < environment variables.
package config

import "time"

// Config is the full daemon configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	APIToken string `yaml:"apiToken"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Portal      PortalConfig      `yaml:"portal"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Cache       CacheConfig       `yaml:"cache"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// CredentialsConfig holds the student login.
type CredentialsConfig struct {
	UID      string `yaml:"uid"`
	Password string `yaml:"password"`
}

// PortalConfig tunes the upstream portal client.
type PortalConfig struct {
	// UISBase overrides the SSO base URL, used for testing against a mock.
	UISBase   string        `yaml:"uisBase"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rateLimit"` // requests per second
	Burst     int           `yaml:"burst"`
}

// RefreshConfig controls the periodic refresh job.
type RefreshConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	KeepSnapshots int           `yaml:"keepSnapshots"`
}

// CacheConfig selects the scrape cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory, redis, none
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
}

// APIConfig tunes the HTTP API surface.
type APIConfig struct {
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Protocol    string  `yaml:"protocol"` // grpc or http
	SampleRatio float64 `yaml:"sampleRatio"`
}
