// Package lock keeps two daemons from draining the same folder.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked means another process already drains this source
var ErrLocked = errors.New("source folder is already being drained by another process")

// SourceLock is an advisory file lock keyed by the watched source path
type SourceLock struct {
	path  string
	flock *flock.Flock
}

// New returns the lock for source, stored under stateDir
func New(stateDir, source string) *SourceLock {
	sum := sha256.Sum256([]byte(filepath.Clean(source)))
	path := filepath.Join(stateDir, hex.EncodeToString(sum[:])[:16]+".lock")
	return &SourceLock{path: path, flock: flock.New(path)}
}

// Path returns the lock file location
func (l *SourceLock) Path() string {
	return l.path
}

// Acquire takes the lock without waiting; ErrLocked if it is held elsewhere
func (l *SourceLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s)", ErrLocked, l.path)
	}
	return nil
}

// Release drops the lock if this process holds it
func (l *SourceLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return nil
}
