package drain

import (
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// only our own partial copies are ignored by default; everything else a
// user drops is moved unless the config lists it
var defaultIgnoreLines = []string{
	".dropsyncd-*",
}

// IgnoreList decides which entries under the watched root are left alone.
// Patterns use gitignore syntax relative to the root.
type IgnoreList struct {
	root   string
	ignore *gitignore.GitIgnore
}

// NewIgnoreList compiles the default rules plus extra patterns
func NewIgnoreList(root string, extra []string) *IgnoreList {
	lines := make([]string, 0, len(defaultIgnoreLines)+len(extra))
	lines = append(lines, defaultIgnoreLines...)
	for _, line := range extra {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return &IgnoreList{
		root:   filepath.Clean(root),
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

// Match reports whether path should be ignored. Paths outside the root never match.
func (l *IgnoreList) Match(path string, isDir bool) bool {
	if l == nil || l.ignore == nil {
		return false
	}

	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	rel = filepath.ToSlash(rel)
	if isDir {
		rel += "/"
	}
	return l.ignore.MatchesPath(rel)
}
