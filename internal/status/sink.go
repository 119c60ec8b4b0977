// Package status contains the notification sinks the drain engine reports to.
package status

import (
	"log/slog"
	"strings"
)

// Sink receives user-facing status text and error events.
// Implementations must not block for long and must never panic back into the caller.
type Sink interface {
	// PublishStatus replaces the current status line. Best effort, may be dropped.
	PublishStatus(text string)
	// PublishError surfaces an error event to the user.
	PublishError(text string)
}

// LogSink writes every event to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) PublishStatus(text string) {
	s.logger.Debug("status", "text", strings.ReplaceAll(text, "\n", " | "))
}

func (s *LogSink) PublishError(text string) {
	s.logger.Error("drain error", "error", text)
}

// Multi fans every event out to all sinks in order
type Multi []Sink

func (m Multi) PublishStatus(text string) {
	for _, s := range m {
		s.PublishStatus(text)
	}
}

func (m Multi) PublishError(text string) {
	for _, s := range m {
		s.PublishError(text)
	}
}

// Discard drops all events
type Discard struct{}

func (Discard) PublishStatus(string) {}
func (Discard) PublishError(string)  {}
