package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a Watcher waits for a burst of file events to
// settle before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls a reload function when one config file changes. The parent
// directory is watched and events are filtered by name, so a save that
// renames a temporary file over the config still counts. Bursts of events
// collapse into one reload, and reloads never run concurrently.
type Watcher struct {
	file     string
	settle   time.Duration
	reload   func()
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle time (DefaultDebounce when unset).
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithWatcherLogger sets the logger for watch errors.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher starts watching path. reload runs on the watcher's goroutine.
func NewWatcher(path string, reload func(), opts ...WatcherOption) (*Watcher, error) {
	file, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		file:   file,
		settle: DefaultDebounce,
		reload: reload,
		logger: slog.Default(),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err := w.fsw.Add(filepath.Dir(file)); err != nil {
		w.fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.file {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) loop() {
	defer close(w.exited)

	settled := time.NewTimer(w.settle)
	settled.Stop()
	defer settled.Stop()

	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				settled.Reset(w.settle)
			}
		case <-settled.C:
			w.logger.Debug("config file changed", "path", w.file)
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "path", w.file, "error", err)
		}
	}
}

// Close stops watching and waits for an in-progress reload to return.
func (w *Watcher) Close() error {
	w.quitOnce.Do(func() { close(w.quit) })
	err := w.fsw.Close()
	<-w.exited
	return err
}
