package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrianpk/gatekeeper/internal/parser"
)

// credentialPaths are locations an agent must never touch, regardless of
// policy. Entries ending in "/" protect the whole directory.
var credentialPaths = []string{
	"~/.ssh/",
	"~/.aws/",
	"~/.gnupg/",
	"~/.gpg/",
	"~/.kube/",
	"~/.docker/config.json",
	"~/.config/gh/",
	"~/.config/gatekeeper/",
	"~/.netrc",
	"~/.git-credentials",
	"~/.npmrc",
	"~/.pypirc",
}

// credentialFilenames are protected in any directory.
var credentialFilenames = []string{
	".gatekeeper.yml",
}

// IsCredentialPath reports whether p points at a credential store or at
// gatekeeper's own configuration. Relative paths resolve against base. Both
// the path as written and its symlink target are checked.
func IsCredentialPath(p, base string) bool {
	if p == "" {
		return false
	}

	literal := CleanPath(p, base)
	for _, absPath := range []string{literal, realPath(literal)} {
		if credentialPath(absPath) {
			return true
		}
	}
	return false
}

func credentialPath(absPath string) bool {
	filename := filepath.Base(absPath)
	for _, protected := range credentialFilenames {
		if filename == protected {
			return true
		}
	}

	for _, pattern := range credentialPaths {
		isDir := strings.HasSuffix(pattern, "/")
		expanded := expandHome(strings.TrimSuffix(pattern, "/"))

		for _, candidate := range []string{expanded, realPath(expanded)} {
			if absPath == candidate || (isDir && strings.HasPrefix(absPath, candidate+string(filepath.Separator))) {
				return true
			}
		}
	}

	return false
}

// CredentialArg returns the first word of cmd (argument, flag value or env
// value) that points at a credential path.
func CredentialArg(cmd parser.Command, base string) (string, bool) {
	for _, w := range cmd.Words() {
		if IsCredentialPath(w, base) {
			return w, true
		}
	}
	return "", false
}

// CleanPath converts p to a clean absolute path without touching the
// filesystem. "~/" expands to the user's home directory and relative paths
// resolve against base (or the working directory when base is empty).
func CleanPath(p, base string) string {
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		if base == "" {
			if cwd, err := os.Getwd(); err == nil {
				base = cwd
			}
		}
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

// ResolvePath is CleanPath with symlinks followed.
func ResolvePath(p, base string) string {
	return realPath(CleanPath(p, base))
}

// maxLinks bounds symlink chains.
const maxLinks = 40

// realPath follows symlinks in the longest existing prefix of p and keeps
// the components that do not exist yet as written. Dangling links are
// followed to their target.
func realPath(p string) string {
	for i := 0; i < maxLinks; i++ {
		existing, rest := existingPrefix(p)
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, rest)
		}
		target, err := os.Readlink(existing)
		if err != nil {
			return p
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(existing), target)
		}
		p = filepath.Join(target, rest)
	}
	return p
}

func existingPrefix(p string) (string, string) {
	rest := ""
	for {
		if _, err := os.Lstat(p); err == nil {
			return p, rest
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p, rest
		}
		rest = filepath.Join(filepath.Base(p), rest)
		p = parent
	}
}

// DisplayPath returns the slash-separated form of p used for pattern
// matching: relative to root when p is inside it, absolute otherwise. p is
// not resolved; root matches both as written and with symlinks followed.
func DisplayPath(p, root string) string {
	abs := CleanPath(p, root)
	if root != "" {
		for _, r := range []string{ResolvePath(root, ""), filepath.Clean(root)} {
			if rel, err := filepath.Rel(r, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return filepath.ToSlash(rel)
			}
		}
	}
	return filepath.ToSlash(abs)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ProtectedPathSet holds path patterns that always require a human for edits.
type ProtectedPathSet struct {
	patterns []*regexp.Regexp
}

// NewProtectedPathSet compiles the given regular expressions. Any invalid
// pattern fails the whole set.
func NewProtectedPathSet(patterns []string) (ProtectedPathSet, error) {
	set := ProtectedPathSet{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return ProtectedPathSet{}, fmt.Errorf("protected[%d]: %w", i, err)
		}
		set.patterns = append(set.patterns, re)
	}
	return set, nil
}

// Match returns the first pattern matching the slash-separated path.
func (s ProtectedPathSet) Match(path string) (string, bool) {
	for _, re := range s.patterns {
		if re.MatchString(path) {
			return re.String(), true
		}
	}
	return "", false
}

// Patterns returns the source patterns of the set.
func (s ProtectedPathSet) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, re := range s.patterns {
		out[i] = re.String()
	}
	return out
}

// Len returns the number of patterns.
func (s ProtectedPathSet) Len() int {
	return len(s.patterns)
}
