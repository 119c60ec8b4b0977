// Package progress tracks bytes moved during one drain cycle and turns the
// raw counters into percentages, throughput and ETA.
package progress

import (
	"sync"
	"time"
)

// Session is the mutable progress state of a single cycle. It is safe for
// concurrent use: many walkers may add bytes while reporters read it.
type Session struct {
	mu         sync.RWMutex
	totalBytes int64
	bytesMoved int64
	start      time.Time
}

// NewSession returns a session that starts at the given time with the given baseline
func NewSession(totalBytes int64, start time.Time) *Session {
	s := &Session{}
	s.Reset(totalBytes, start)
	return s
}

// Reset starts a new cycle
func (s *Session) Reset(totalBytes int64, start time.Time) {
	if totalBytes < 0 {
		totalBytes = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytes = totalBytes
	s.bytesMoved = 0
	s.start = start
}

// Add records n transferred bytes and returns the new running total
func (s *Session) Add(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesMoved += n
	return s.bytesMoved
}

// Forfeit removes n bytes that will not be transferred this cycle (skipped
// or failed files) from the baseline. The total never drops below the bytes
// already moved, so the percentage stays monotonic.
func (s *Session) Forfeit(n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytes -= n
	if s.totalBytes < s.bytesMoved {
		s.totalBytes = s.bytesMoved
	}
}

// Counters returns a consistent view of the session state
func (s *Session) Counters() (totalBytes, bytesMoved int64, start time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes, s.bytesMoved, s.start
}

// TotalBytes returns the current baseline
func (s *Session) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes
}

// BytesMoved returns the bytes transferred so far
func (s *Session) BytesMoved() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytesMoved
}
