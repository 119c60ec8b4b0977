package status

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// blockingSink holds every call until release is closed
type blockingSink struct {
	release chan struct{}

	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (s *blockingSink) PublishStatus(text string) {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, text)
}

func (s *blockingSink) PublishError(text string) {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, text)
}

func TestAsync_DoesNotBlockOnSlowSink(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	a := NewAsync(slow, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			a.PublishStatus(fmt.Sprintf("status %d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishStatus blocked on a slow sink")
	}

	close(slow.release)
	a.Close()

	slow.mu.Lock()
	defer slow.mu.Unlock()
	require.NotEmpty(t, slow.statuses)
	assert.Equal(t, "status 999", slow.statuses[len(slow.statuses)-1], "latest status must win")
	assert.LessOrEqual(t, len(slow.statuses), 2)
}

func TestAsync_ErrorsDeliveredInOrder(t *testing.T) {
	board := NewBoard(10)
	a := NewAsync(board, testLogger())

	a.PublishError("first")
	a.PublishError("second")
	a.Close()

	view := board.View()
	require.Len(t, view.Errors, 2)
	assert.Equal(t, "first", view.Errors[0].Message)
	assert.Equal(t, "second", view.Errors[1].Message)
}

func TestAsync_DropsErrorsWhenQueueFull(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	a := NewAsync(slow, testLogger())

	for i := 0; i < errorQueueSize*3; i++ {
		a.PublishError("boom")
	}

	close(slow.release)
	a.Close()

	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.LessOrEqual(t, len(slow.errors), errorQueueSize+1)
}

func TestAsync_PublishAfterCloseIsNoop(t *testing.T) {
	board := NewBoard(10)
	a := NewAsync(board, testLogger())
	a.Close()
	a.Close()

	a.PublishStatus("late")
	a.PublishError("late")

	assert.Empty(t, board.View().Status)
}

func TestBoard_KeepsBoundedHistory(t *testing.T) {
	b := NewBoard(3)
	for i := 0; i < 5; i++ {
		b.PublishError(fmt.Sprintf("e%d", i))
	}
	b.PublishStatus("idle")

	view := b.View()
	assert.Equal(t, "idle", view.Status)
	assert.False(t, view.UpdatedAt.IsZero())
	require.Len(t, view.Errors, 3)
	assert.Equal(t, "e2", view.Errors[0].Message)
	assert.Equal(t, "e4", view.Errors[2].Message)
}

func TestLogSinkAndMulti(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	board := NewBoard(0)

	m := Multi{NewLogSink(logger), board, Discard{}}
	m.PublishStatus("line one\nline two")
	m.PublishError("disk on fire")

	out := buf.String()
	assert.Contains(t, out, "line one | line two")
	assert.Contains(t, out, "disk on fire")
	assert.Equal(t, "line one\nline two", board.View().Status)
	assert.Len(t, board.View().Errors, 1)
}
