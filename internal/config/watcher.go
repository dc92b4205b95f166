package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads configuration when any layer file changes. Rapid
// bursts of filesystem events collapse into one reload.
type Watcher struct {
	loader  *Loader
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	reloads chan *Config

	mu      sync.Mutex
	pending *time.Timer
	closed  bool
}

// NewWatcher starts watching the loader's layer files. The caller
// drains Reloads until Close.
func NewWatcher(loader *Loader, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		loader:  loader,
		logger:  logger.With("component", "config_watcher"),
		watcher: fw,
		reloads: make(chan *Config, 1),
	}
	for _, path := range loader.layerPaths() {
		// The file itself may not exist yet; watching the parent
		// directory still catches its creation.
		if err := fw.Add(path); err != nil {
			if dirErr := fw.Add(dirOf(path)); dirErr != nil {
				w.logger.Debug("config path not watchable", "path", path, "error", err)
			}
		}
	}
	return w, nil
}

// Reloads delivers a freshly loaded config after each settled change.
func (w *Watcher) Reloads() <-chan *Config {
	return w.reloads
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// scheduleReload resets the debounce timer; the reload fires once
// events stop for the debounce window.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	select {
	case w.reloads <- cfg:
		w.logger.Info("config reloaded")
	default:
		w.logger.Debug("dropping config reload, previous one unconsumed")
	}
}

// Close stops watching. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func dirOf(path string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path
	}
	return filepath.Dir(path)
}
