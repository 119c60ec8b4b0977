package drain

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/dropsyncd/internal/config"
)

var errInjected = errors.New("injected I/O failure")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(mutate func(c *config.Config)) *config.Config {
	cfg := &config.Config{
		Source:           "/src",
		Destination:      "/dst",
		PollIntervalMs:   1000,
		ConflictPolicy:   config.ConflictOverwrite,
		Baseline:         config.BaselineRecursive,
		Workers:          1,
		StatusIntervalMs: 0,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// recordingSink keeps every published event
type recordingSink struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
	onStatus func(text string)
}

func (s *recordingSink) PublishStatus(text string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, text)
	hook := s.onStatus
	s.mu.Unlock()
	if hook != nil {
		hook(text)
	}
}

func (s *recordingSink) PublishError(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, text)
}

func (s *recordingSink) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *recordingSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

// faultFs wraps an afero.Fs and injects failures
type faultFs struct {
	afero.Fs

	mu          sync.Mutex
	writeBudget int64 // bytes written before one injected failure; negative disables it
	failRemove  map[string]error
	failMkdir   map[string]error
}

func newFaultFs(base afero.Fs) *faultFs {
	return &faultFs{
		Fs:          base,
		writeBudget: -1,
		failRemove:  make(map[string]error),
		failMkdir:   make(map[string]error),
	}
}

func (f *faultFs) setWriteBudget(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeBudget = n
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	armed := f.writeBudget >= 0
	f.mu.Unlock()
	if armed && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &faultFile{File: file, fs: f}, nil
	}
	return file, nil
}

func (f *faultFs) Remove(name string) error {
	f.mu.Lock()
	err, ok := f.failRemove[filepath.Clean(name)]
	f.mu.Unlock()
	if ok {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return f.Fs.Remove(name)
}

func (f *faultFs) MkdirAll(path string, perm os.FileMode) error {
	f.mu.Lock()
	err, ok := f.failMkdir[filepath.Clean(path)]
	f.mu.Unlock()
	if ok {
		return &os.PathError{Op: "mkdir", Path: path, Err: err}
	}
	return f.Fs.MkdirAll(path, perm)
}

type faultFile struct {
	afero.File
	fs *faultFs
}

func (f *faultFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	budget := f.fs.writeBudget
	if budget < 0 {
		f.fs.mu.Unlock()
		return f.File.Write(p)
	}
	if int64(len(p)) <= budget {
		f.fs.writeBudget -= int64(len(p))
		f.fs.mu.Unlock()
		return f.File.Write(p)
	}
	f.fs.writeBudget = -1
	f.fs.mu.Unlock()

	n, _ := f.File.Write(p[:budget])
	return n, errInjected
}

func writeFile(t *testing.T, fsys afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fsys, path, data, 0644))
}

func sized(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill + byte(i%7)
	}
	return b
}

func exists(t *testing.T, fsys afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	return ok
}

func listNames(t *testing.T, fsys afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}
