// Package watcher feeds debounced file-system events into single-file
// re-ingests so a long-lived server keeps storage warm between scans. It is
// advisory: freshness annotations remain correct without it.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives coalesced events. Changed fires for creates and writes,
// Removed for deletes and renames.
type Handler interface {
	Changed(ctx context.Context, path string)
	Removed(ctx context.Context, path string)
}

// skipDirs mirrors the scanner's walk exclusions.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".build": true, ".venv": true, ".svn": true, ".hg": true,
	".idea": true, ".vscode": true, ".DS_Store": true,
	"Thumbs.db": true, ".Trash": true, ".cache": true,
}

// Watcher watches a root recursively and debounces per-path events.
type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	debounce time.Duration
	handler  Handler

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over root.
func New(root string, debounce time.Duration, handler Handler) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &Watcher{
		fs:       fs,
		root:     root,
		debounce: debounce,
		handler:  handler,
		pending:  make(map[string]*time.Timer),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if skipDirs[base] {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Debug("watch_add_failed", slog.String("path", event.Name))
			}
			return
		}
		w.schedule(ctx, event.Name, false)
	case event.Op&fsnotify.Write != 0:
		w.schedule(ctx, event.Name, false)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.schedule(ctx, event.Name, true)
	}
}

// schedule coalesces bursts of events on the same path into one callback.
func (w *Watcher) schedule(ctx context.Context, path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if removed {
			w.handler.Removed(ctx, path)
		} else {
			w.handler.Changed(ctx, path)
		}
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return w.fs.Add(path)
		}
		return nil
	})
}
