package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace confines edits to the project directory.
type Workspace struct {
	Confine bool
	Allow   []string
}

// Outside reports whether p escapes root and is not covered by an allow entry.
// It always returns false when confinement is disabled.
func (w Workspace) Outside(p, root string) bool {
	if !w.Confine || p == "" {
		return false
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return true // fail closed
		}
		root = cwd
	}

	absPath := ResolvePath(p, root)
	rootClean := ResolvePath(root, "")
	if absPath == rootClean || strings.HasPrefix(absPath, rootClean+string(filepath.Separator)) {
		return false
	}

	for _, pattern := range w.Allow {
		if matchPathPrefix(absPath, pattern) {
			return false
		}
	}
	return true
}

// matchPathPrefix checks if path equals pattern or lives under it.
func matchPathPrefix(path, pattern string) bool {
	pattern = realPath(filepath.Clean(expandHome(pattern)))
	if path == pattern {
		return true
	}
	return strings.HasPrefix(path, pattern+string(filepath.Separator))
}

// GlobSet matches slash-separated paths against glob patterns.
// "**" matches any number of directories; a pattern without a slash also
// matches the base name alone.
type GlobSet []string

// Match returns the first pattern matching path.
func (g GlobSet) Match(path string) (string, bool) {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	for _, pattern := range g {
		if matchGlob(path, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func matchGlob(path, pattern string) bool {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	if !strings.Contains(pattern, "/") {
		return matchSegment(pattern, lastSegment(path))
	}
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(path); i++ {
				if matchSegments(path[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 || !matchSegment(pattern[0], path[0]) {
			return false
		}
		path, pattern = path[1:], pattern[1:]
	}
	return len(path) == 0
}

func matchSegment(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func validGlob(pattern string) error {
	if pattern == "" {
		return errors.New("empty pattern")
	}
	for _, seg := range strings.Split(filepath.ToSlash(pattern), "/") {
		if seg == "**" {
			continue
		}
		if _, err := filepath.Match(seg, ""); err != nil {
			return fmt.Errorf("%q: %w", pattern, err)
		}
	}
	return nil
}
