package status

import (
	"log/slog"
	"sync"
)

const errorQueueSize = 64

// Async decouples a possibly slow sink from the copy loop. Status updates
// are latest-value-wins: a pending update is replaced rather than queued.
// Errors go through a bounded queue and are logged and dropped when it is full.
type Async struct {
	next   Sink
	logger *slog.Logger

	statusCh chan string
	errorCh  chan string
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
	mu        sync.Mutex // serializes replace-on-full for statusCh
}

// NewAsync starts forwarding events to next in a background goroutine
func NewAsync(next Sink, logger *slog.Logger) *Async {
	a := &Async{
		next:     next,
		logger:   logger,
		statusCh: make(chan string, 1),
		errorCh:  make(chan string, errorQueueSize),
		done:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.forward()
	return a
}

func (a *Async) PublishStatus(text string) {
	select {
	case <-a.done:
		return
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		select {
		case a.statusCh <- text:
			return
		default:
		}
		// drop the stale pending update and retry
		select {
		case <-a.statusCh:
		default:
		}
	}
}

func (a *Async) PublishError(text string) {
	select {
	case <-a.done:
		return
	default:
	}

	select {
	case a.errorCh <- text:
	default:
		a.logger.Warn("dropped error event: queue full", "error", text)
	}
}

// Close stops forwarding after flushing whatever is still queued
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *Async) forward() {
	defer a.wg.Done()
	for {
		select {
		case text := <-a.errorCh:
			a.next.PublishError(text)
		case text := <-a.statusCh:
			a.next.PublishStatus(text)
		case <-a.done:
			a.flush()
			return
		}
	}
}

func (a *Async) flush() {
	for {
		select {
		case text := <-a.errorCh:
			a.next.PublishError(text)
		case text := <-a.statusCh:
			a.next.PublishStatus(text)
		default:
			return
		}
	}
}
