package progress

import (
	"sync"
	"time"
)

// StatusPublisher receives formatted status text
type StatusPublisher interface {
	PublishStatus(text string)
}

// Reporter turns raw copy samples into snapshots and pushes them to a
// publisher, at most once per interval. Final samples of a file are always
// pushed so the user sees every file reach 100%.
type Reporter struct {
	session  *Session
	out      StatusPublisher
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastPush time.Time
	last     Snapshot
}

// NewReporter creates a reporter for one cycle's session
func NewReporter(session *Session, out StatusPublisher, interval time.Duration, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		session:  session,
		out:      out,
		interval: interval,
		now:      now,
	}
}

// Report computes a snapshot for the current file and publishes it when due.
// It returns the computed snapshot whether or not it was published.
func (r *Reporter) Report(file string, fileSize, fileCopied int64) Snapshot {
	now := r.now()
	snap := Compute(r.session, file, fileSize, fileCopied, now)
	final := fileCopied >= fileSize

	r.mu.Lock()
	r.last = snap
	due := final || r.lastPush.IsZero() || now.Sub(r.lastPush) >= r.interval
	if due {
		r.lastPush = now
	}
	r.mu.Unlock()

	if due && r.out != nil {
		r.out.PublishStatus(snap.String())
	}
	return snap
}

// Last returns the most recently computed snapshot
func (r *Reporter) Last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
