package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextDelay(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	interval := time.Second

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantDelay   time.Duration
		wantSkipped int64
	}{
		{name: "instant", elapsed: 0, wantDelay: time.Second},
		{name: "within interval", elapsed: 300 * time.Millisecond, wantDelay: 700 * time.Millisecond},
		{name: "exactly one interval", elapsed: time.Second, wantDelay: time.Second, wantSkipped: 1},
		{name: "overran by half", elapsed: 1500 * time.Millisecond, wantDelay: 500 * time.Millisecond, wantSkipped: 1},
		{name: "overran several ticks", elapsed: 3200 * time.Millisecond, wantDelay: 800 * time.Millisecond, wantSkipped: 3},
		{name: "clock went backwards", elapsed: -time.Second, wantDelay: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, skipped := nextDelay(base, base.Add(tt.elapsed), interval)
			assert.Equal(t, tt.wantDelay, delay)
			assert.Equal(t, tt.wantSkipped, skipped)
		})
	}
}

func TestScheduler_RunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(time.Hour, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run at start")
	}
}

func TestScheduler_RunsAtFixedRate(t *testing.T) {
	var runs atomic.Int32
	s := New(20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_TriggersCoalesce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs atomic.Int32

	s := New(time.Hour, func(context.Context) error {
		n := runs.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	<-started
	for i := 0; i < 5; i++ {
		s.Trigger()
	}
	close(release)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("pending trigger did not run")
	}

	// no further runs beyond the single coalesced one
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	entered := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	<-entered
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_SurvivesFailingCycles(t *testing.T) {
	var runs atomic.Int32
	s := New(10*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 2 {
			panic("boom")
		}
		return errors.New("source missing")
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_NeverBlocks(t *testing.T) {
	s := New(time.Second, func(context.Context) error { return nil }, testLogger())
	for i := 0; i < 100; i++ {
		s.Trigger()
	}
	assert.Len(t, s.trigger, 1)
}
