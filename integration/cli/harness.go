//go:build integration

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/schaermu/dropsyncd/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness drives a built dropsyncd binary against a scratch directory tree
type Harness struct {
	t      *testing.T
	bin    string
	Root   string
	Source string
	Dest   string
	State  string
}

// NewHarness lays out source, destination and state dirs for bin
func NewHarness(t *testing.T, bin string) *Harness {
	t.Helper()
	root := t.TempDir()
	h := &Harness{
		t:      t,
		bin:    bin,
		Root:   root,
		Source: filepath.Join(root, "drop"),
		Dest:   filepath.Join(root, "archive"),
		State:  filepath.Join(root, "state"),
	}
	if err := os.MkdirAll(h.Source, 0o755); err != nil {
		t.Fatalf("mkdir source: %v", err)
	}
	return h
}

// WriteConfig writes a YAML config with the harness paths plus extra lines
func (h *Harness) WriteConfig(extra string) string {
	h.t.Helper()
	body := fmt.Sprintf(`source: %q
destination: %q
state_dir: %q
poll_interval_ms: 500
status_interval_ms: 0
%s`, h.Source, h.Dest, h.State, extra)

	path := filepath.Join(h.Root, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
	return path
}

// WriteSource creates a file below the source dir
func (h *Harness) WriteSource(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.Source, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", rel, err)
	}
}

// ReadDest reads a file below the destination dir
func (h *Harness) ReadDest(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.Dest, rel))
	return string(data), err
}

// Run executes the binary to completion and returns combined output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, int) {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, h.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), exitErr.ExitCode()
		}
		h.t.Fatalf("exec %v: %v", args, err)
	}
	return string(out), 0
}

// Daemon is a running `dropsyncd run` process
type Daemon struct {
	cmd  *exec.Cmd
	Log  *testutil.LogWriter
	done chan error
}

// Start launches the binary in the background; it is stopped at test cleanup
func (h *Harness) Start(args ...string) *Daemon {
	h.t.Helper()
	log := testutil.NewLogWriter(h.t, "[dropsyncd] ")
	cmd := exec.Command(h.bin, args...)
	cmd.Stdout = log
	cmd.Stderr = log
	if err := cmd.Start(); err != nil {
		h.t.Fatalf("start daemon: %v", err)
	}

	d := &Daemon{cmd: cmd, Log: log, done: make(chan error, 1)}
	go func() { d.done <- cmd.Wait() }()
	h.t.Cleanup(func() { _ = d.Stop(5 * time.Second) })
	return d
}

// Stop sends SIGTERM and waits for the process to exit
func (d *Daemon) Stop(timeout time.Duration) error {
	_ = d.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-d.done:
		d.done <- err
		return err
	case <-time.After(timeout):
		_ = d.cmd.Process.Kill()
		return fmt.Errorf("daemon did not exit within %s", timeout)
	}
}

// Exited reports whether the process ended, waiting at most timeout
func (d *Daemon) Exited(timeout time.Duration) (bool, error) {
	select {
	case err := <-d.done:
		d.done <- err
		return true, err
	case <-time.After(timeout):
		return false, nil
	}
}

// FreeAddr returns a loopback address with a currently unused port
func FreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
