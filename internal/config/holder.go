package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	fdulog "github.com/fduhole/fdusdk/internal/log"
)

// Holder provides thread-safe access to the current configuration and
// supports hot reloading, either from a file watcher or a manual trigger.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

// NewHolder creates a holder with an initial validated config.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  fdulog.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers a channel that receives the new config after each
// successful reload. The send is non-blocking; slow listeners miss updates.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload loads and validates the configuration again. On any failure the
// running config stays in place.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(fdulog.FieldEvent, "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).
			Str(fdulog.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.notify(newCfg)

	h.logger.Info().Str(fdulog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

// StartWatcher watches the config file and reloads on writes. A no-op when
// the loader is ENV-only. Editors often replace files instead of writing in
// place, so rename and create events re-arm the watch.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.loader.path == "" {
		h.logger.Info().
			Str(fdulog.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.loader.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str(fdulog.FieldEvent, "config.watcher_started").
		Str(fdulog.FieldPath, h.loader.path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce: editors fire several events per save.
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = h.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&(fsnotify.Rename|fsnotify.Create) != 0 {
				_ = h.watcher.Add(h.loader.path)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Warn().Err(err).
						Str(fdulog.FieldEvent, "config.reload_rejected").
						Msg("keeping previous configuration")
				}
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).
				Str(fdulog.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Redacted returns a loggable summary of the config with secrets masked.
func Redacted(cfg Config) map[string]string {
	return map[string]string{
		"listen":       cfg.Listen,
		"dataDir":      cfg.DataDir,
		"logLevel":     cfg.LogLevel,
		"uid":          cfg.Credentials.UID,
		"password":     mask(cfg.Credentials.Password),
		"apiToken":     mask(cfg.APIToken),
		"cacheBackend": cfg.Cache.Backend,
		"refresh":      cfg.Refresh.Interval.String(),
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
