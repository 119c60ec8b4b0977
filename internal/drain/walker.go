package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/dropsyncd/internal/config"
	"github.com/schaermu/dropsyncd/internal/progress"
	"github.com/schaermu/dropsyncd/internal/status"
)

// TreeWalker mirrors a source tree into the destination, handing every file
// to the FileMover. Subdirectories may be walked concurrently when a worker
// group is configured; files within one directory are always sequential.
type TreeWalker struct {
	fs       afero.Fs
	mover    *FileMover
	ignore   *IgnoreList
	session  *progress.Session
	result   *Result
	sink     status.Sink
	quiet    func(path string) bool
	baseline config.Baseline
	dryRun   bool
	logger   *slog.Logger

	group *errgroup.Group
}

// Walk moves everything below srcDir into dstDir and waits for any
// concurrent subdirectory walkers to finish.
func (w *TreeWalker) Walk(ctx context.Context, srcDir, dstDir string) {
	w.walkDir(ctx, srcDir, dstDir, nil)
	if w.group != nil {
		_ = w.group.Wait()
	}
}

func (w *TreeWalker) walkDir(ctx context.Context, srcDir, dstDir string, ancestors []os.FileInfo) {
	entries, ignored, err := listEntries(w.fs, srcDir, w.ignore)
	if err != nil {
		w.fail(&TransferError{Path: srcDir, Op: "list", Err: err})
		return
	}
	w.result.addIgnored(ignored)

	if info, err := w.fs.Stat(srcDir); err == nil {
		ancestors = append(ancestors[:len(ancestors):len(ancestors)], info)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}

		switch e.Kind {
		case KindDir:
			w.enterDir(ctx, e, dstDir, ancestors)
		case KindFile:
			w.moveFile(ctx, e, dstDir)
		case KindBrokenLink:
			w.fail(&TransferError{Path: e.Path, Op: "resolve link", Err: os.ErrNotExist})
		default:
			w.fail(&TransferError{Path: e.Path, Op: "move", Err: fmt.Errorf("%w: %s", ErrUnsupportedType, e.Info.Mode().Type())})
		}
	}
}

func (w *TreeWalker) enterDir(ctx context.Context, e Entry, dstDir string, ancestors []os.FileInfo) {
	if e.Linked {
		for _, a := range ancestors {
			if os.SameFile(a, e.Info) {
				w.fail(&TransferError{Path: e.Path, Op: "follow link", Err: ErrSymlinkLoop})
				return
			}
		}
	}

	target := filepath.Join(dstDir, e.Name)
	if !w.dryRun {
		if err := w.fs.MkdirAll(target, 0755); err != nil {
			if w.baseline == config.BaselineRecursive {
				w.session.Forfeit(EstimateRecursive(w.fs, e.Path, w.ignore))
			}
			w.fail(&TransferError{Path: e.Path, Op: "mkdir", Err: err})
			return
		}
	}

	if w.group != nil {
		if w.group.TryGo(func() error {
			w.walkDir(ctx, e.Path, target, ancestors)
			return nil
		}) {
			return
		}
	}
	w.walkDir(ctx, e.Path, target, ancestors)
}

func (w *TreeWalker) moveFile(ctx context.Context, e Entry, dstDir string) {
	outcome, err := w.mover.Move(ctx, e.Path, e.Info, dstDir)
	w.result.record(outcome, e.Info.Size())
	if err == nil {
		return
	}

	var delErr *DeleteError
	if errors.As(err, &delErr) {
		w.logger.Warn("source kept after copy", "path", e.Path, "dest", delErr.Dest, "error", delErr.Err)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// cancellation is not a per-file failure
		w.logger.Info("copy interrupted", "path", e.Path)
		return
	}
	w.fail(err)
}

// fail records a per-entry failure and surfaces it unless the same path is
// a repeat from earlier cycles that is not due again yet
func (w *TreeWalker) fail(err error) {
	path := failurePath(err)
	w.result.addFailure(path, err)

	if w.quiet != nil && w.quiet(path) {
		w.logger.Debug("still failing", "path", path, "error", err)
		return
	}
	w.logger.Debug("entry failed", "path", path, "error", err)
	w.sink.PublishError(err.Error())
}
