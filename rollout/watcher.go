package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prospectiq/cortex/engine"
)

// FileWatcher watches a rule-document file and hot-swaps the manager's
// active engine when the file changes. A change always produces a new
// engine instance over the freshly parsed document; a file that fails
// to parse or validate is logged and the previous engine keeps
// serving. Rapid successive writes are debounced so an editor save
// storm triggers one reload.
type FileWatcher struct {
	path     string
	manager  *Manager
	logger   *slog.Logger
	debounce time.Duration
}

// NewFileWatcher creates a watcher for one rule-document file.
func NewFileWatcher(path string, manager *Manager, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		path:     path,
		manager:  manager,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}
}

// Watch blocks until the context is cancelled, reloading on changes to
// the watched file. The parent directory is watched rather than the
// file itself so atomic rename-into-place saves are seen.
func (w *FileWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("watching rule document", "path", w.path)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "path", w.path, "error", err)
		}
	}
}

// Reload parses the watched file and swaps it in. Exposed so callers
// can force an initial load before watching.
func (w *FileWatcher) Reload() error {
	doc, err := engine.LoadDocumentFile(w.path)
	if err != nil {
		return err
	}
	return w.manager.Swap(doc)
}

func (w *FileWatcher) reload() {
	if err := w.Reload(); err != nil {
		// Keep serving the previous engine.
		w.logger.Error("rule document reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("rule document reloaded", "path", w.path, "version", w.manager.ActiveVersion())
}
