package drain

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// EstimateTopLevel sums the sizes of the immediate file entries only.
// Directories are not descended, so files in subfolders are not counted.
func EstimateTopLevel(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind == KindFile && e.Size > 0 {
			total += e.Size
		}
	}
	return total
}

// EstimateRecursive sums the sizes of every file below root that a cycle
// would move. Unreadable entries count as 0; it never fails.
func EstimateRecursive(fsys afero.Fs, root string, ignore *IgnoreList) int64 {
	var total int64
	_ = afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if path == root {
			return nil
		}
		if ignore.Match(path, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fsys.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
			info = target
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
