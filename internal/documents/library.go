package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Library maps production lines onto folders below the PDF root. Only the
// configured lines are ever served.
type Library struct {
	root  string
	lines []string
}

func NewLibrary(root string, lines []string) *Library {
	l := &Library{root: root}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			l.lines = append(l.lines, line)
		}
	}
	return l
}

func (l *Library) Root() string { return l.root }

// Lines returns the configured lines whose folder exists, sorted.
func (l *Library) Lines() []string {
	out := []string{}
	for _, line := range l.lines {
		if info, err := os.Stat(filepath.Join(l.root, line)); err == nil && info.IsDir() {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

// LineDir resolves a line name case-insensitively to its folder.
func (l *Library) LineDir(line string) (string, string, error) {
	for _, allowed := range l.lines {
		if !strings.EqualFold(allowed, line) {
			continue
		}
		dir := filepath.Join(l.root, allowed)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			break
		}
		return allowed, dir, nil
	}
	return "", "", fmt.Errorf("%w: line %q", ErrNotFound, line)
}

// SplitPath turns a slash separated relative path into segments. Empty
// segments are dropped; dot segments are rejected.
func SplitPath(rel string) ([]string, error) {
	segments := []string{}
	for _, s := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if s == "." || s == ".." {
			return nil, fmt.Errorf("%w: path segment %q", ErrNotFound, s)
		}
		segments = append(segments, s)
	}
	return segments, nil
}

// Folder resolves a folder below a line. The result never escapes the line
// folder.
func (l *Library) Folder(line, rel string) (dir string, segments []string, err error) {
	_, lineDir, err := l.LineDir(line)
	if err != nil {
		return "", nil, err
	}
	segments, err = SplitPath(rel)
	if err != nil {
		return "", nil, err
	}
	if len(segments) == 0 {
		return lineDir, segments, nil
	}

	dir, err = securejoin.SecureJoin(lineDir, filepath.Join(segments...))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", nil, fmt.Errorf("%w: folder %q", ErrNotFound, strings.Join(segments, "/"))
	}
	return dir, segments, nil
}

// File resolves a PDF inside a folder below a line.
func (l *Library) File(line, rel, name string) (string, error) {
	if err := ValidatePDFFileName(name); err != nil {
		return "", err
	}
	dir, _, err := l.Folder(line, rel)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}
