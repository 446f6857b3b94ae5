package config

import (
	"errors"
	"fmt"
)

// Validation errors returned by Validate.
var (
	ErrMissingCredentials = errors.New("credentials.uid and credentials.password are required")
	ErrInvalidCacheTTL    = errors.New("cache.ttl must be positive")
)

var validCacheBackends = map[string]bool{
	"memory": true,
	"redis":  true,
	"none":   true,
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true,
}

// Validate checks the assembled configuration. It returns the first
// problem found; a failed validation must never replace a running config.
func Validate(cfg Config) error {
	if cfg.Credentials.UID == "" || cfg.Credentials.Password == "" {
		return ErrMissingCredentials
	}
	if cfg.Listen == "" {
		return errors.New("listen address is required")
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	if !validCacheBackends[cfg.Cache.Backend] {
		return fmt.Errorf("invalid cache backend %q (memory, redis, none)", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		return errors.New("cache.redisAddr is required for the redis backend")
	}
	if cfg.Cache.Backend != "none" && cfg.Cache.TTL <= 0 {
		return ErrInvalidCacheTTL
	}
	if cfg.Portal.RateLimit <= 0 {
		return errors.New("portal.rateLimit must be positive")
	}
	if cfg.Portal.Burst <= 0 {
		return errors.New("portal.burst must be positive")
	}
	if cfg.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be positive")
	}
	if cfg.Refresh.Timeout <= 0 || cfg.Refresh.Timeout >= cfg.Refresh.Interval {
		return errors.New("refresh.timeout must be positive and shorter than refresh.interval")
	}
	if cfg.Refresh.KeepSnapshots < 1 {
		return errors.New("refresh.keepSnapshots must be at least 1")
	}
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if cfg.Telemetry.Protocol != "grpc" && cfg.Telemetry.Protocol != "http" {
			return fmt.Errorf("invalid telemetry protocol %q (grpc, http)", cfg.Telemetry.Protocol)
		}
		if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
			return errors.New("telemetry.sampleRatio must be within [0, 1]")
		}
	}
	return nil
}
