package drain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
)

// FailureKind classifies a per-entry failure
type FailureKind string

const (
	FailureTransfer FailureKind = "transfer"
	FailureDelete   FailureKind = "delete-after-copy"
	FailurePrune    FailureKind = "prune"
)

// Failure is one entry that did not complete this cycle
type Failure struct {
	Path string
	Kind FailureKind
	Err  error
}

// Result summarizes one cycle. It is filled concurrently by walkers.
type Result struct {
	ID       string
	Started  time.Time
	Duration time.Duration

	mu           sync.Mutex
	Moved        int
	Skipped      int
	Failed       int
	Planned      int
	Ignored      int
	BytesMoved   int64
	BytesPlanned int64
	TotalBytes   int64
	Pruned       []string
	Failures     []Failure
}

func newResult(id string, started time.Time) *Result {
	return &Result{ID: id, Started: started}
}

func (r *Result) record(outcome Outcome, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case OutcomeMoved:
		r.Moved++
		r.BytesMoved += size
	case OutcomeSkipped:
		r.Skipped++
	case OutcomePlanned:
		r.Planned++
		r.BytesPlanned += size
	case OutcomeFailed:
		r.Failed++
	}
}

func (r *Result) addIgnored(n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ignored += n
}

func (r *Result) addFailure(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, Failure{Path: path, Kind: kindOf(err), Err: err})
}

// FailedPaths returns the set of paths that failed in this cycle
func (r *Result) FailedPaths() mapset.Set[string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := mapset.NewSet[string]()
	for _, f := range r.Failures {
		set.Add(f.Path)
	}
	return set
}

// Summary renders the end-of-cycle status line
func (r *Result) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Planned > 0 && r.Moved == 0 {
		return fmt.Sprintf("Dry run: would move %d file(s) (%s)", r.Planned, humanize.IBytes(uint64(r.BytesPlanned)))
	}
	return fmt.Sprintf("Moved %d file(s) (%s) in %s; %d skipped, %d failed, %d empty folder(s) removed",
		r.Moved, humanize.IBytes(uint64(r.BytesMoved)), r.Duration.Round(time.Millisecond),
		r.Skipped, len(r.Failures), len(r.Pruned))
}

func kindOf(err error) FailureKind {
	var delErr *DeleteError
	var pruneErr *PruneError
	switch {
	case errors.As(err, &delErr):
		return FailureDelete
	case errors.As(err, &pruneErr):
		return FailurePrune
	default:
		return FailureTransfer
	}
}

func failurePath(err error) string {
	var (
		transferErr *TransferError
		delErr      *DeleteError
		pruneErr    *PruneError
	)
	switch {
	case errors.As(err, &transferErr):
		return transferErr.Path
	case errors.As(err, &delErr):
		return delErr.Path
	case errors.As(err, &pruneErr):
		return pruneErr.Path
	default:
		return ""
	}
}
