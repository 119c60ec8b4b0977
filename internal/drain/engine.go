// Package drain moves the contents of a watched folder into a destination
// tree, reporting progress as it goes and removing emptied subfolders.
package drain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/dropsyncd/internal/config"
	"github.com/schaermu/dropsyncd/internal/progress"
	"github.com/schaermu/dropsyncd/internal/status"
)

const (
	msgNoFiles = "No files found to copy."

	// a path that keeps failing is published again every this many cycles
	errorRepeatCycles = 10
)

// Engine runs drain cycles over one watched root
type Engine struct {
	cfg    *config.Config
	root   Root
	fs     afero.Fs
	sink   status.Sink
	logger *slog.Logger
	dryRun bool
	ignore *IgnoreList
	space  SpaceChecker
	now    func() time.Time

	running atomic.Bool

	mu         sync.Mutex
	lastFailed mapset.Set[string]
	streaks    map[string]int
}

// NewEngine creates a new drain engine
func NewEngine(cfg *config.Config, fsys afero.Fs, sink status.Sink, logger *slog.Logger, dryRun bool) *Engine {
	if sink == nil {
		sink = status.Discard{}
	}
	return &Engine{
		cfg: cfg,
		root: Root{
			Source:      cfg.Source,
			Destination: cfg.Destination,
			Policy:      cfg.ConflictPolicy,
		},
		fs:         fsys,
		sink:       sink,
		logger:     logger,
		dryRun:     dryRun,
		ignore:     NewIgnoreList(cfg.Source, cfg.Ignore),
		now:        time.Now,
		lastFailed: mapset.NewSet[string](),
		streaks:    make(map[string]int),
	}
}

// SetSpaceChecker enables the free-space preflight before each copy
func (e *Engine) SetSpaceChecker(c SpaceChecker) {
	e.space = c
}

// Root returns the watched root this engine drains
func (e *Engine) Root() Root {
	return e.root
}

// RunCycle performs one full scan-and-move pass. Per-entry failures are
// collected in the result; the returned error is only set when the cycle
// as a whole could not run (source unavailable, destination not creatable,
// cancellation, or another cycle still running).
func (e *Engine) RunCycle(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)

	res := newResult(uuid.NewString(), e.now())
	logger := e.logger.With("cycle", res.ID)
	defer func() {
		res.Duration = e.now().Sub(res.Started)
	}()

	info, err := e.fs.Stat(e.root.Source)
	if err != nil || !info.IsDir() {
		e.sink.PublishStatus("Source folder does not exist or is not a directory.")
		logger.Warn("source unavailable", "source", e.root.Source, "error", err)
		return res, fmt.Errorf("%w: %s", ErrSourceUnavailable, e.root.Source)
	}

	entries, ignored, err := listEntries(e.fs, e.root.Source, e.ignore)
	if err != nil {
		e.sink.PublishStatus("Source folder does not exist or is not a directory.")
		return res, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, e.root.Source, err)
	}
	if len(entries) == 0 {
		// the walker counts ignored entries itself; it does not run here
		res.addIgnored(ignored)
		logger.Debug("nothing to move", "source", e.root.Source, "ignored", ignored)
		e.sink.PublishStatus(msgNoFiles)
		e.rememberFailures(logger, res)
		return res, nil
	}

	if !e.dryRun {
		if err := e.fs.MkdirAll(e.root.Destination, 0755); err != nil {
			return res, fmt.Errorf("failed to create destination: %w", err)
		}
	}

	var total int64
	if e.cfg.Baseline == config.BaselineTopLevel {
		total = EstimateTopLevel(entries)
	} else {
		total = EstimateRecursive(e.fs, e.root.Source, e.ignore)
	}
	res.TotalBytes = total

	logger.Info("starting drain cycle",
		"source", e.root.Source,
		"dest", e.root.Destination,
		"entries", len(entries),
		"total", humanize.IBytes(uint64(total)),
		"dry_run", e.dryRun)

	session := progress.NewSession(total, e.now())
	reporter := progress.NewReporter(session, e.sink, e.cfg.StatusInterval(), e.now)

	mover := NewFileMover(e.fs, e.root.Policy, session, reporter, logger)
	mover.space = e.space
	mover.minFree = e.cfg.MinFreeBytes
	mover.dryRun = e.dryRun

	walker := &TreeWalker{
		fs:       e.fs,
		mover:    mover,
		ignore:   e.ignore,
		session:  session,
		result:   res,
		sink:     e.sink,
		quiet:    e.isRepeatFailure,
		baseline: e.cfg.Baseline,
		dryRun:   e.dryRun,
		logger:   logger,
	}
	if e.cfg.Workers > 1 {
		walker.group = &errgroup.Group{}
		walker.group.SetLimit(e.cfg.Workers - 1)
	}

	walker.Walk(ctx, e.root.Source, e.root.Destination)
	if err := ctx.Err(); err != nil {
		logger.Info("drain cycle interrupted", "moved", res.Moved)
		return res, err
	}

	if !e.dryRun {
		pruner := NewEmptyDirPruner(e.fs, e.ignore, logger)
		removed, errs := pruner.Prune(e.root.Source)
		res.Pruned = removed
		for _, err := range errs {
			walker.fail(err)
		}
	}

	res.Duration = e.now().Sub(res.Started)
	e.sink.PublishStatus(res.Summary())
	logger.Info("drain cycle finished",
		"moved", res.Moved,
		"bytes", humanize.IBytes(uint64(res.BytesMoved)),
		"skipped", res.Skipped,
		"failures", len(res.Failures),
		"pruned", len(res.Pruned),
		"duration", res.Duration)

	e.rememberFailures(logger, res)
	return res, nil
}

// isRepeatFailure reports whether path failed in the previous cycle and is
// not yet due to be published again
func (e *Engine) isRepeatFailure(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	streak := e.streaks[path]
	return streak > 0 && streak%errorRepeatCycles != 0
}

// rememberFailures tracks for how many consecutive cycles each path has
// failed, and logs paths that recovered
func (e *Engine) rememberFailures(logger *slog.Logger, res *Result) {
	current := res.FailedPaths()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFailed.Difference(current).Each(func(path string) bool {
		logger.Info("entry recovered", "path", path)
		delete(e.streaks, path)
		return false
	})
	current.Each(func(path string) bool {
		e.streaks[path]++
		return false
	})
	e.lastFailed = current
}
