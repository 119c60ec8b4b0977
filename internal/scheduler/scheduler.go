// Package scheduler runs drain cycles at a fixed rate and on demand.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// CycleFunc runs one cycle
type CycleFunc func(ctx context.Context) error

// Scheduler runs a cycle immediately on start and then once per interval.
// Cycles never overlap: a tick that falls inside a running cycle is skipped,
// and any number of triggers received during a cycle collapse into one
// extra run.
type Scheduler struct {
	interval time.Duration
	run      CycleFunc
	logger   *slog.Logger
	trigger  chan struct{}
	now      func() time.Time
}

// New creates a scheduler; interval must be positive
func New(interval time.Duration, run CycleFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		run:      run,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Trigger requests a cycle as soon as the current one (if any) finishes.
// It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is cancelled. A running cycle sees the
// cancellation through its context and Start returns once it has stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		case <-s.trigger:
			s.logger.Debug("cycle triggered")
		}

		start := s.now()
		s.runCycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		end := s.now()

		delay, skipped := nextDelay(start, end, s.interval)
		if skipped > 0 {
			s.logger.Warn("cycle overran its interval", "duration", end.Sub(start), "skipped_ticks", skipped)
		}
		timer.Reset(delay)
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "panic", r)
		}
	}()

	if err := s.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("cycle failed", "error", err)
	}
}

// nextDelay returns how long to wait after a cycle that ran from start to
// end so the next one lands on the fixed-rate grid anchored at start.
// Ticks that elapsed while the cycle was running are skipped, not queued.
func nextDelay(start, end time.Time, interval time.Duration) (time.Duration, int64) {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed < interval {
		return interval - elapsed, 0
	}
	skipped := int64(elapsed / interval)
	return interval - elapsed%interval, skipped
}
