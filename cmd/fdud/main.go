package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/internal/api"
	"github.com/fduhole/fdusdk/internal/cache"
	"github.com/fduhole/fdusdk/internal/config"
	"github.com/fduhole/fdusdk/internal/jobs"
	fdulog "github.com/fduhole/fdusdk/internal/log"
	"github.com/fduhole/fdusdk/internal/session"
	"github.com/fduhole/fdusdk/internal/store"
	"github.com/fduhole/fdusdk/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	fdulog.Configure(fdulog.Config{
		Level:   "info",
		Service: "fdud",
		Version: version,
	})
	logger := fdulog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise ${FDUSDK_DATA}/config.yaml
	// when it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := strings.TrimSpace(os.Getenv("FDUSDK_DATA"))
		if dataDir == "" {
			dataDir = "./data"
		}
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	loader := config.NewLoader(effectivePath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(fdulog.FieldEvent, "config.load_failed").
			Str(fdulog.FieldPath, effectivePath).
			Msg("failed to load configuration")
	}

	fdulog.Configure(fdulog.Config{
		Level:   cfg.LogLevel,
		Service: "fdud",
		Version: version,
	})

	logger.Info().
		Str(fdulog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Fields(map[string]any{"config": config.Redacted(cfg)}).
		Msg("starting fdud")

	if cfg.APIToken == "" {
		logger.Warn().Msg("API token not configured, /api/v1 is open. Set FDUSDK_API_TOKEN.")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create data dir")
	}

	// Tracing.
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "fdud",
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize tracing")
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	// Portal client with a persistent cookie jar.
	jar, err := session.NewJar()
	if err != nil {
		logger.Fatal().Err(err).Msg("create cookie jar")
	}

	opts := []fdu.Option{
		fdu.WithCookieJar(jar),
		fdu.WithTimeout(cfg.Portal.Timeout),
		fdu.WithRateLimit(rate.Limit(cfg.Portal.RateLimit), cfg.Portal.Burst),
	}
	if cfg.Telemetry.Enabled {
		opts = append(opts, fdu.WithTracing())
	}
	if cfg.Portal.UISBase != "" {
		bases := fdu.DefaultBaseURLs()
		bases.UIS = cfg.Portal.UISBase
		opts = append(opts, fdu.WithBaseURLs(bases))
	}
	client := fdu.New(opts...)

	// Persistence.
	sessions, err := session.OpenStore(filepath.Join(cfg.DataDir, "sessions"), session.DefaultTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open session store")
	}
	defer func() { _ = sessions.Close() }()

	st, err := store.New(filepath.Join(cfg.DataDir, "fdusdk.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("open snapshot store")
	}
	defer func() { _ = st.Close() }()

	scrapeCache, err := buildCache(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize cache")
	}

	// Refresh loop.
	runner := jobs.NewRunner(jobs.Config{
		DataDir:       cfg.DataDir,
		UID:           cfg.Credentials.UID,
		Password:      cfg.Credentials.Password,
		Interval:      cfg.Refresh.Interval,
		Timeout:       cfg.Refresh.Timeout,
		KeepSnapshots: cfg.Refresh.KeepSnapshots,
	}, client, st, jar, sessions)
	runner.RestoreSession(ctx)
	go runner.Run(ctx)

	// Hot reload of the config file; a reload only adjusts what can change
	// at runtime (log level).
	holder := config.NewHolder(cfg, loader)
	reloads := make(chan config.Config, 1)
	holder.Subscribe(reloads)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloads:
				fdulog.Configure(fdulog.Config{Level: next.LogLevel, Service: "fdud", Version: version})
			}
		}
	}()
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}

	// HTTP API.
	server := api.NewServer(api.Config{
		Token:              cfg.APIToken,
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
		CacheTTL:           cfg.Cache.TTL,
		UID:                cfg.Credentials.UID,
		Password:           cfg.Credentials.Password,
	}, client, runner, scrapeCache)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.RequestTimeout,
		WriteTimeout:      cfg.API.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str(fdulog.FieldEvent, "http.listen").
			Str("addr", cfg.Listen).
			Msg("API listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str(fdulog.FieldEvent, "shutdown").Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	logger.Info().Msg("server exiting")
}

func buildCache(cfg config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, fdulog.WithComponent("cache"))
	case "none":
		return cache.NewNoop(), nil
	default:
		return cache.NewMemory(time.Minute), nil
	}
}
