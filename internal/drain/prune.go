package drain

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// EmptyDirPruner removes directories left empty after a drain. The root it
// is started on is never removed.
type EmptyDirPruner struct {
	fs     afero.Fs
	ignore *IgnoreList
	logger *slog.Logger
}

// NewEmptyDirPruner creates a pruner; ignored directories are not descended
func NewEmptyDirPruner(fsys afero.Fs, ignore *IgnoreList, logger *slog.Logger) *EmptyDirPruner {
	return &EmptyDirPruner{fs: fsys, ignore: ignore, logger: logger}
}

// Prune walks root post-order and deletes every empty directory below it.
// It returns the removed directories and any per-directory failures.
func (p *EmptyDirPruner) Prune(root string) (removed []string, errs []error) {
	p.prune(filepath.Clean(root), true, &removed, &errs)
	return removed, errs
}

func (p *EmptyDirPruner) prune(dir string, isRoot bool, removed *[]string, errs *[]error) {
	infos, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		*errs = append(*errs, &PruneError{Path: dir, Err: err})
		return
	}

	for _, info := range infos {
		// ReadDir does not follow links, so linked directories are left alone
		if !info.IsDir() {
			continue
		}
		child := filepath.Join(dir, info.Name())
		if p.ignore.Match(child, true) {
			continue
		}
		p.prune(child, false, removed, errs)
	}

	if isRoot {
		return
	}

	empty, err := afero.IsEmpty(p.fs, dir)
	if err != nil {
		*errs = append(*errs, &PruneError{Path: dir, Err: err})
		return
	}
	if !empty {
		return
	}

	if err := p.fs.Remove(dir); err != nil {
		*errs = append(*errs, &PruneError{Path: dir, Err: err})
		return
	}
	p.logger.Info("deleted empty folder", "path", dir)
	*removed = append(*removed, dir)
}
