package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCredentials(env map[string]string) map[string]string {
	merged := map[string]string{
		"FDUSDK_UID":      "21300000000",
		"FDUSDK_PASSWORD": "secret",
	}
	for k, v := range env {
		merged[k] = v
	}
	return merged
}

func envLoader(path string, env map[string]string) *Loader {
	l := NewLoader(path)
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := envLoader("", withCredentials(nil)).Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Refresh.Interval)
	assert.InDelta(t, 2, cfg.Portal.RateLimit, 1e-9)
}

func TestLoadMissingCredentials(t *testing.T) {
	_, err := envLoader("", nil).Load()
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestEnvOverridesDefaults(t *testing.T) {
	cfg, err := envLoader("", withCredentials(map[string]string{
		"FDUSDK_LISTEN":           ":9090",
		"FDUSDK_LOG_LEVEL":        "debug",
		"FDUSDK_REFRESH_INTERVAL": "1h",
		"FDUSDK_CACHE_BACKEND":    "none",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, "none", cfg.Cache.Backend)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileOverridesDefaultsEnvWins(t *testing.T) {
	path := writeConfigFile(t, `
listen: ":7070"
logLevel: warn
refresh:
  interval: 15m
  timeout: 2m
`)

	cfg, err := envLoader(path, withCredentials(map[string]string{
		"FDUSDK_LOG_LEVEL": "error",
	})).Load()
	require.NoError(t, err)

	// File beats defaults, ENV beats file.
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.Refresh.Interval)
}

func TestFileUnknownFieldRejected(t *testing.T) {
	path := writeConfigFile(t, "bogusField: true\n")

	_, err := envLoader(path, withCredentials(nil)).Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }},
		{"zero rate limit", func(c *Config) { c.Portal.RateLimit = 0 }},
		{"timeout exceeds interval", func(c *Config) { c.Refresh.Timeout = time.Hour }},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Credentials = CredentialsConfig{UID: "21300000000", Password: "secret"}
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfigFile(t, "listen: \":7070\"\n")
	loader := envLoader(path, withCredentials(nil))

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader)
	assert.Equal(t, ":7070", holder.Get().Listen)

	// Break the file; reload must fail and keep the old config.
	require.NoError(t, os.WriteFile(path, []byte("listen: [\n"), 0o600))
	assert.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, ":7070", holder.Get().Listen)
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, "listen: \":7070\"\n")
	loader := envLoader(path, withCredentials(nil))

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader)
	ch := make(chan Config, 1)
	holder.Subscribe(ch)

	require.NoError(t, os.WriteFile(path, []byte("listen: \":9091\"\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case cfg := <-ch:
		assert.Equal(t, ":9091", cfg.Listen)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Credentials = CredentialsConfig{UID: "21300000000", Password: "hunter2secret"}
	cfg.APIToken = "tok"

	redacted := Redacted(cfg)
	assert.Equal(t, "21300000000", redacted["uid"])
	assert.NotContains(t, redacted["password"], "hunter2secret"[2:10])
	assert.Equal(t, "***", redacted["apiToken"])
}
