// Package testutil holds helpers shared by tests that drive the dropsyncd
// binary.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// FindProjectRoot walks up from the caller's source file to the directory holding go.mod
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	return findGoMod(filepath.Dir(filename))
}

func findGoMod(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// BuildBinary compiles the dropsyncd command into a temp dir and returns its path
func BuildBinary(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to get caller information")
	}
	root, err := findGoMod(filepath.Dir(filename))
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}

	bin := filepath.Join(t.TempDir(), "dropsyncd")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/dropsyncd")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, out)
	}
	return bin
}

// Eventually polls cond until it returns true or timeout elapses
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, fmt.Sprintf(format, args...))
}

// LogWriter collects process output and mirrors it to the test log
type LogWriter struct {
	t      *testing.T
	prefix string

	mu  sync.Mutex
	buf strings.Builder
}

// NewLogWriter creates a writer whose lines are logged with prefix
func NewLogWriter(t *testing.T, prefix string) *LogWriter {
	return &LogWriter{t: t, prefix: prefix}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

// String returns everything written so far
func (w *LogWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
