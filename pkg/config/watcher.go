package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload is emitted each time the watched file settles after a change.
// Config is nil when the new content failed to load; Err says why.
type Reload struct {
	Path   string
	At     time.Time
	Config *Config
	Err    error
}

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	reloads  chan Reload

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

const defaultDebounce = 500 * time.Millisecond

// NewWatcher watches path. The parent directory is watched rather than the
// file itself so that editors replacing the file are still noticed.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		fsw:      fsw,
		path:     abs,
		debounce: defaultDebounce,
		reloads:  make(chan Reload, 4),
	}, nil
}

// Reloads returns the channel of reload notifications. It is closed once
// the context passed to Start is done.
func (w *Watcher) Reloads() <-chan Reload {
	return w.reloads
}

// Start processes file system events until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("Config file changed", "path", name, "op", ev.Op)
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

// schedule restarts the debounce timer so a burst of writes yields one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.emit)
}

func (w *Watcher) emit() {
	cfg, err := Load(w.path)
	r := Reload{Path: w.path, At: time.Now(), Config: cfg, Err: err}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.reloads <- r:
		slog.Info("Config reloaded", "path", w.path, "error", err)
	default:
		slog.Warn("Config reload channel full, dropping reload", "path", w.path)
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.reloads)
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.shutdown()
	if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}
