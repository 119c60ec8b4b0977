// Package diskspace reports free space on the destination volume.
package diskspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// Checker queries the volume that holds a path
type Checker struct{}

// NewChecker creates a checker
func NewChecker() *Checker {
	return &Checker{}
}

// Free returns the bytes available to unprivileged users on the volume
// holding path. Paths that do not exist yet are resolved to their nearest
// existing parent.
func (c *Checker) Free(ctx context.Context, path string) (uint64, error) {
	dir, err := existingParent(path)
	if err != nil {
		return 0, err
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}

func existingParent(path string) (string, error) {
	dir := filepath.Clean(path)
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		dir = parent
	}
}
