package config

import (
	"log/slog"
	"sync"
)

// Reloader runs the reload pipeline for one config file: load, validate and
// swap into a Store. A file that fails to load or validate leaves the
// current value in place.
type Reloader[T any] struct {
	store    *Store[T]
	path     string
	defaults *T
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *Watcher
}

// NewReloader creates a Reloader for path. A nil logger uses slog.Default.
func NewReloader[T any](store *Store[T], path string, defaults *T, logger *slog.Logger) *Reloader[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader[T]{store: store, path: path, defaults: defaults, logger: logger}
}

// Reload loads the file and swaps the result into the store.
func (r *Reloader[T]) Reload() error {
	cfg, err := Load(r.path, r.defaults)
	if err != nil {
		return err
	}
	r.store.Swap(cfg)
	return nil
}

// Watch reloads on every change to the file until Close.
func (r *Reloader[T]) Watch(opts ...WatcherOption) error {
	opts = append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)
	w, err := NewWatcher(r.path, func() {
		if err := r.Reload(); err != nil {
			r.logger.Warn("config reload failed, keeping previous config", "path", r.path, "error", err)
			return
		}
		r.logger.Info("config reloaded", "path", r.path, "generation", r.store.Generation())
	}, opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// Close stops watching.
func (r *Reloader[T]) Close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
