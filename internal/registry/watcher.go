package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logging surface used by the watcher.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Watcher reloads a registry file into a Store whenever it changes on disk.
type Watcher struct {
	path     string
	store    *Store
	logger   Logger
	onReload func(*Registry)
	debounce time.Duration
}

// NewWatcher creates a Watcher for path. onReload, if non-nil, runs after each
// successful swap.
func NewWatcher(path string, store *Store, logger Logger, onReload func(*Registry)) *Watcher {
	return &Watcher{
		path:     path,
		store:    store,
		logger:   logger,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file so editors that replace the file by rename are handled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve registry path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("registry watcher error", "error", err)
		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload loads the file and swaps it into the store. On a load error the
// previous registry stays in effect.
func (w *Watcher) Reload() {
	r, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("registry reload failed, keeping previous registry", "path", w.path, "error", err)
		return
	}
	w.store.Swap(r)
	counts := r.Counts()
	w.logger.Info("registry reloaded",
		"path", w.path,
		"nodes", counts[KindNode],
		"workflows", counts[KindWorkflow],
		"tools", counts[KindTool],
		"services", counts[KindService],
	)
	if w.onReload != nil {
		w.onReload(r)
	}
}
