package export

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/thumbsup-team/securenas/internal/logger"
)

// Watcher monitors the exports file for out-of-band edits and asks the
// controller to resync when one is seen.
//
// The parent directory is watched rather than the file itself so that
// editors replacing the file via rename are still observed.
type Watcher struct {
	controller *Controller
	watcher    *fsnotify.Watcher
}

// NewWatcher creates a watcher for the controller's exports file.
func NewWatcher(controller *Controller) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(controller.exportsFile)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{controller: controller, watcher: fsw}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.controller.exportsFile)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}

			logger.Debug("Exports file changed on disk", logger.Path(event.Name))
			if err := w.controller.Resync(ctx); err != nil {
				logger.Error("Failed to resync exports file", logger.Err(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Exports watcher error", logger.Err(err))
		}
	}
}
