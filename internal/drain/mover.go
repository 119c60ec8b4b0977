package drain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/schaermu/dropsyncd/internal/config"
	"github.com/schaermu/dropsyncd/internal/progress"
)

const (
	// ChunkSize is the copy buffer size; progress is reported once per chunk
	ChunkSize = 1024 * 1024

	tempPattern = ".dropsyncd-*.part"
)

// Outcome is what happened to a single file
type Outcome int

const (
	OutcomeMoved Outcome = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomePlanned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMoved:
		return "moved"
	case OutcomeSkipped:
		return "skipped"
	case OutcomePlanned:
		return "planned"
	default:
		return "failed"
	}
}

// SpaceChecker reports the free bytes on the volume holding path
type SpaceChecker interface {
	Free(ctx context.Context, path string) (uint64, error)
}

// FileMover copies one file into a destination folder and deletes the source
type FileMover struct {
	fs        afero.Fs
	policy    config.ConflictPolicy
	session   *progress.Session
	reporter  *progress.Reporter
	space     SpaceChecker
	minFree   uint64
	dryRun    bool
	chunkSize int
	logger    *slog.Logger
}

// NewFileMover creates a mover reporting into session via reporter
func NewFileMover(fsys afero.Fs, policy config.ConflictPolicy, session *progress.Session, reporter *progress.Reporter, logger *slog.Logger) *FileMover {
	return &FileMover{
		fs:        fsys,
		policy:    policy,
		session:   session,
		reporter:  reporter,
		chunkSize: ChunkSize,
		logger:    logger,
	}
}

// Move moves the file at src into destDir. size is the byte count counted
// in the session baseline for this file.
//
// A failed copy never deletes the source and never leaves anything at the
// final destination name. A failed delete after a good copy returns
// OutcomeMoved together with a *DeleteError.
func (m *FileMover) Move(ctx context.Context, src string, info os.FileInfo, destDir string) (Outcome, error) {
	name := filepath.Base(src)
	dst := filepath.Join(destDir, name)
	size := info.Size()

	fail := func(op string, copied int64, err error) (Outcome, error) {
		m.session.Forfeit(size - copied)
		return OutcomeFailed, &TransferError{Path: src, Op: op, Err: err}
	}

	existing, err := m.fs.Stat(dst)
	switch {
	case err == nil:
		switch m.policy {
		case config.ConflictSkip:
			m.logger.Info("destination exists, skipping", "path", src, "dest", dst)
			m.session.Forfeit(size)
			return OutcomeSkipped, nil
		case config.ConflictFail:
			return fail("copy", 0, fmt.Errorf("%w: %s", ErrDestinationExists, dst))
		}
		if existing.IsDir() {
			return fail("copy", 0, fmt.Errorf("destination is a directory: %s", dst))
		}
	case !errors.Is(err, os.ErrNotExist):
		return fail("stat destination", 0, err)
	}

	if m.dryRun {
		m.logger.Info("[dry-run] would move", "path", src, "dest", dst, "size", humanize.IBytes(uint64(size)))
		return OutcomePlanned, nil
	}

	if m.space != nil {
		free, err := m.space.Free(ctx, destDir)
		if err != nil {
			m.logger.Debug("free space check failed", "dest", destDir, "error", err)
		} else if free < uint64(size)+m.minFree {
			return fail("copy", 0, fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
				humanize.IBytes(uint64(size)+m.minFree), humanize.IBytes(free)))
		}
	}

	copied, err := m.copyFile(ctx, src, dst, name, info)
	if err != nil {
		if m.policy == config.ConflictSkip && errors.Is(err, ErrDestinationExists) {
			m.logger.Info("destination appeared during copy, skipping", "path", src, "dest", dst)
			m.session.Forfeit(size - copied)
			return OutcomeSkipped, nil
		}
		return fail("copy", copied, err)
	}

	// the copy is committed; a failed delete leaves a duplicate that is reported, not undone
	if err := m.fs.Remove(src); err != nil {
		return OutcomeMoved, &DeleteError{Path: src, Dest: dst, Err: err}
	}

	m.logger.Debug("moved file", "path", src, "dest", dst, "size", humanize.IBytes(uint64(copied)))
	return OutcomeMoved, nil
}

// copyFile streams src into a temp file next to dst in fixed-size chunks,
// then renames it into place. The temp file is removed on any failure.
func (m *FileMover) copyFile(ctx context.Context, src, dst, name string, info os.FileInfo) (int64, error) {
	in, err := m.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = in.Close()
	}()

	tmp, err := afero.TempFile(m.fs, filepath.Dir(dst), tempPattern)
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = m.fs.Remove(tmpPath)
		}
	}()

	size := info.Size()
	buf := make([]byte, m.chunkSize)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		n, rerr := in.Read(buf)
		if n > 0 {
			wn, werr := tmp.Write(buf[:n])
			if werr != nil {
				return copied, werr
			}
			if wn != n {
				return copied, io.ErrShortWrite
			}
			copied += int64(n)
			m.session.Add(int64(n))
			m.reporter.Report(name, size, copied)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return copied, rerr
		}
	}
	if size == 0 {
		m.reporter.Report(name, 0, 0)
	}

	if err := tmp.Sync(); err != nil {
		return copied, err
	}
	if err := tmp.Close(); err != nil {
		return copied, err
	}

	if err := m.fs.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		m.logger.Debug("failed to copy permissions", "path", dst, "error", err)
	}
	if err := m.fs.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		m.logger.Debug("failed to copy modification time", "path", dst, "error", err)
	}

	// narrow the window in which a file appearing at dst would be replaced
	if m.policy != config.ConflictOverwrite {
		if _, err := m.fs.Stat(dst); err == nil {
			return copied, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
	}

	if err := m.fs.Rename(tmpPath, dst); err != nil {
		return copied, err
	}
	committed = true
	return copied, nil
}
