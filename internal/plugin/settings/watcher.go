package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/mcwrap/internal/logging"
)

// Watcher invalidates stores when their files change on disk, so edits made
// while the server runs are seen by the next config_get.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *logging.Logger

	mu     sync.Mutex
	stores map[string]*Store
	dirs   map[string]bool
}

// NewWatcher creates a watcher. Call Close when done.
func NewWatcher(log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if log == nil {
		log = logging.Discard
	}
	return &Watcher{
		fsw:    fsw,
		log:    log,
		stores: make(map[string]*Store),
		dirs:   make(map[string]bool),
	}, nil
}

// Add starts tracking s. The directory holding the file must exist.
func (w *Watcher) Add(s *Store) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(s.Path())
	if !w.dirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.stores[s.Path()] = s
	return nil
}

// Len returns the number of tracked stores.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stores)
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	s := w.stores[filepath.Clean(ev.Name)]
	w.mu.Unlock()

	if s == nil {
		return
	}
	s.Invalidate()
	w.log.Debug("config %s changed (%s)", ev.Name, ev.Op)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
