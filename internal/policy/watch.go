package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor produces on save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls onChange when the policy document is edited externally.
// Writes made through the FileStore are ignored.
type Watcher struct {
	store    *FileStore
	onChange func()
	debounce time.Duration
	logger   *zap.Logger

	fsWatcher *fsnotify.Watcher
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the store's document.
func NewWatcher(store *FileStore, onChange func(), logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// Start begins watching. The directory is watched rather than the file
// because editors commonly replace the file on save.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.store.Path())
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.fsWatcher = fsWatcher

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.fsWatcher == nil {
		return
	}
	_ = w.fsWatcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	name := filepath.Base(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.fire)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) fire() {
	data, err := os.ReadFile(w.store.Path())
	if err != nil {
		// Mid-replace; the following Create event fires again.
		w.logger.Debug("config file unreadable after change", zap.Error(err))
		return
	}
	if w.store.WroteContent(data) {
		return
	}
	w.logger.Info("config file changed externally", zap.String("path", w.store.Path()))
	w.onChange()
}
