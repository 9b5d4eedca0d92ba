// Package watch re-traces source files as they change on disk. Editor
// save storms are coalesced with a debounce window so each burst of
// writes triggers one pipeline run.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codetrace/internal/lang"
	"codetrace/internal/logging"
)

// Handler is invoked once per settled change, with the changed file's
// path.
type Handler func(path string)

// Watcher observes directories and fires a Handler for supported
// source files after the debounce window closes.
type Watcher struct {
	fs       *fsnotify.Watcher
	registry *lang.Registry
	debounce time.Duration
	handler  Handler

	mu      sync.Mutex
	closed  bool
	pending map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher. The registry filters events to extensions a
// backend claims; everything else is ignored.
func New(registry *lang.Registry, debounce time.Duration, handler Handler) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		fs:       fs,
		registry: registry,
		debounce: debounce,
		handler:  handler,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Add registers a file or directory to observe.
func (w *Watcher) Add(path string) error {
	if err := w.fs.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	logging.Watch("watching %s", path)
	return nil
}

// Run pumps filesystem events until ctx is canceled or Close is
// called. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.drainTimers()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logging.Watch("watch error: %v", err)
		}
	}
}

// observe schedules a handler call for write/create events on files a
// backend claims. A second event inside the window resets the timer.
func (w *Watcher) observe(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if !w.registry.Supported(ev.Name) {
		return
	}
	path := filepath.Clean(ev.Name)
	logging.WatchDebug("change: %s (%s)", path, ev.Op)

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		logging.Watch("settled: %s", path)
		w.handler(path)
	})
}

func (w *Watcher) drainTimers() {
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
}

// Close stops event delivery and waits for in-flight handlers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fs.Close()
	w.drainTimers()
	w.wg.Wait()
	return err
}
