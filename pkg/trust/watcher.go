package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Map whenever its backing file changes on disk.
type Watcher struct {
	mu       sync.Mutex
	fswatch  *fsnotify.Watcher
	path     string
	m        *Map
	debounce time.Duration
	stopCh   chan struct{}
}

// NewWatcher creates a Watcher for the trust map at path, which must already
// have been loaded into m.
func NewWatcher(path string, m *Map) (*Watcher, error) {
	fswatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("trust: create watcher: %w", err)
	}
	if err := fswatch.Add(path); err != nil {
		fswatch.Close()
		return nil, fmt.Errorf("trust: watch %s: %w", path, err)
	}

	return &Watcher{
		fswatch:  fswatch,
		path:     path,
		m:        m,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Watch blocks, reloading the trust map on every debounced write/create
// event until ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fswatch.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.m.Reload(w.path); err != nil {
					logger.Error("trust map reload failed", "path", w.path, "error", err)
					return
				}
				logger.Info("trust map reloaded", "path", w.path, "agents", w.m.Len())
			})
		case err, ok := <-w.fswatch.Errors:
			if !ok {
				return nil
			}
			logger.Error("trust map watcher error", "error", err)
		}
	}
}

// Stop releases the underlying filesystem watch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	return w.fswatch.Close()
}
