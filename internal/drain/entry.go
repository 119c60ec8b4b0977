package drain

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/dropsyncd/internal/config"
)

// Root is the watched source folder and where its contents go
type Root struct {
	Source      string
	Destination string
	Policy      config.ConflictPolicy
}

// EntryKind classifies a discovered entry
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindOther
	KindBrokenLink
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindBrokenLink:
		return "broken-link"
	default:
		return "other"
	}
}

// Entry is a file or directory found during one walk. Symbolic links are
// reported with the kind and size of their target.
type Entry struct {
	Path   string
	Name   string
	Kind   EntryKind
	Size   int64
	Linked bool
	Info   os.FileInfo // target info for links
}

// listEntries returns the entries of dir in name order, skipping ignored ones.
// The number of ignored entries is returned alongside.
func listEntries(fsys afero.Fs, dir string, ignore *IgnoreList) ([]Entry, int, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]Entry, 0, len(infos))
	ignored := 0
	for _, info := range infos {
		path := filepath.Join(dir, info.Name())
		if ignore.Match(path, info.IsDir()) {
			ignored++
			continue
		}
		entries = append(entries, toEntry(fsys, path, info))
	}
	return entries, ignored, nil
}

func toEntry(fsys afero.Fs, path string, info os.FileInfo) Entry {
	e := Entry{Path: path, Name: info.Name(), Info: info}

	if info.Mode()&os.ModeSymlink != 0 {
		e.Linked = true
		target, err := fsys.Stat(path)
		if err != nil {
			e.Kind = KindBrokenLink
			return e
		}
		info = target
		e.Info = target
	}

	switch {
	case info.IsDir():
		e.Kind = KindDir
	case info.Mode().IsRegular():
		e.Kind = KindFile
		e.Size = info.Size()
	default:
		e.Kind = KindOther
	}
	return e
}
