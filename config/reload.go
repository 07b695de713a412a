package config

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ReloadFunc receives the freshly loaded configuration after a successful
// reload.
type ReloadFunc func(old, new *Config)

// Reloader re-reads the configuration file when it changes and notifies
// subscribers. A reload that fails to parse or validate is rejected and the
// previous configuration stays in effect; runtime consumers only ever see
// configurations that passed validation.
//
// Which fields actually take effect at runtime is up to the subscribers;
// the engine applies policy thresholds, everything else requires a restart.
type Reloader struct {
	mu        sync.RWMutex
	path      string
	envPrefix string
	current   *Config
	watcher   *FileWatcher
	callbacks []ReloadFunc
	logger    *zap.Logger
}

// NewReloader creates a reloader around an already loaded configuration.
func NewReloader(path string, initial *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts, WithWatcherLogger(logger))
	watcher, err := NewFileWatcher([]string{path}, opts...)
	if err != nil {
		return nil, err
	}

	r := &Reloader{
		path:      path,
		envPrefix: "EVOLOOP",
		current:   initial,
		watcher:   watcher,
		logger:    logger.With(zap.String("component", "config_reload")),
	}
	watcher.OnChange(r.onFileEvent)
	return r, nil
}

// Current returns the latest valid configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback invoked after each successful reload.
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the file.
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop halts watching.
func (r *Reloader) Stop() {
	r.watcher.Stop()
}

func (r *Reloader) onFileEvent(ev FileEvent) {
	if ev.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current configuration",
			zap.String("path", ev.Path))
		return
	}

	next, err := NewLoader().
		WithConfigPath(r.path).
		WithEnvPrefix(r.envPrefix).
		Load()
	if err != nil {
		r.logger.Error("config reload rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	callbacks := make([]ReloadFunc, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("configuration reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(old, next)
	}
}
