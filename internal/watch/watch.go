// Package watch turns filesystem activity under the drop folder into
// early cycle requests.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	// DefaultDebounce is how long the tree must be quiet before a burst of
	// events turns into one request
	DefaultDebounce = 2 * time.Second
	eventBufferSize = 64
)

// FilterFunc returns true for paths whose events should be dropped
type FilterFunc func(path string) bool

// Watcher watches a directory tree and calls onChange once per burst of
// activity
type Watcher struct {
	root     string
	delay    time.Duration
	onChange func()
	filter   FilterFunc
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher for root
func New(root string, delay time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		delay:    delay,
		onChange: onChange,
		logger:   logger,
	}
}

// SetFilter installs a filter applied to raw events before debouncing
func (w *Watcher) SetFilter(filter FilterFunc) {
	w.filter = filter
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	events := make(chan notify.EventInfo, eventBufferSize)
	recursive := filepath.Join(w.root, "...")
	if err := notify.Watch(recursive, events, notify.Create, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	defer notify.Stop(events)
	defer w.stopTimer()

	w.logger.Info("watching for new files", "dir", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if w.filter != nil && w.filter(ev.Path()) {
				continue
			}
			w.logger.Debug("change detected", "path", ev.Path(), "event", ev.Event())
			w.debounce()
		}
	}
}

// RunWithRetry keeps the watch alive until ctx is cancelled. When the root
// cannot be watched (usually because it does not exist yet) it retries every
// retry interval; polling covers the gap.
func (w *Watcher) RunWithRetry(ctx context.Context, retry time.Duration) {
	warned := false
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !warned {
			w.logger.Warn("file watching unavailable, will retry", "dir", w.root, "error", err)
			warned = true
		} else if err != nil {
			w.logger.Debug("file watching still unavailable", "dir", w.root, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// debounce restarts the quiet-period timer
func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
