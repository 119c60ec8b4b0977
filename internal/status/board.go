package status

import (
	"sync"
	"time"
)

const defaultErrorHistory = 32

// ErrorEvent is one published error with the time it was received
type ErrorEvent struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// View is a point-in-time copy of a Board
type View struct {
	Status    string       `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
	Errors    []ErrorEvent `json:"errors"`
}

// Board remembers the latest status line and a bounded history of errors.
// It is what the status server renders.
type Board struct {
	mu        sync.RWMutex
	status    string
	updatedAt time.Time
	errors    []ErrorEvent
	limit     int
	now       func() time.Time
}

// NewBoard creates a board that keeps at most limit errors (oldest dropped first)
func NewBoard(limit int) *Board {
	if limit <= 0 {
		limit = defaultErrorHistory
	}
	return &Board{limit: limit, now: time.Now}
}

func (b *Board) PublishStatus(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = text
	b.updatedAt = b.now()
}

func (b *Board) PublishError(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, ErrorEvent{Time: b.now(), Message: text})
	if over := len(b.errors) - b.limit; over > 0 {
		b.errors = append([]ErrorEvent(nil), b.errors[over:]...)
	}
}

// View returns a copy of the current board contents
func (b *Board) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	errs := make([]ErrorEvent, len(b.errors))
	copy(errs, b.errors)
	return View{Status: b.status, UpdatedAt: b.updatedAt, Errors: errs}
}
