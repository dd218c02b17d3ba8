package diff

import (
	"path/filepath"
	"regexp"
	"strings"
)

type syntax int

const (
	syntaxGeneric syntax = iota
	syntaxPython
	syntaxCLike
	syntaxShell
)

type language struct {
	syntax syntax
}

var extensions = map[string]syntax{
	".py":    syntaxPython,
	".pyi":   syntaxPython,
	".go":    syntaxCLike,
	".js":    syntaxCLike,
	".jsx":   syntaxCLike,
	".mjs":   syntaxCLike,
	".cjs":   syntaxCLike,
	".ts":    syntaxCLike,
	".tsx":   syntaxCLike,
	".java":  syntaxCLike,
	".kt":    syntaxCLike,
	".scala": syntaxCLike,
	".swift": syntaxCLike,
	".c":     syntaxCLike,
	".h":     syntaxCLike,
	".cc":    syntaxCLike,
	".cpp":   syntaxCLike,
	".hpp":   syntaxCLike,
	".cs":    syntaxCLike,
	".rs":    syntaxCLike,
	".proto": syntaxCLike,
	".sh":    syntaxShell,
	".bash":  syntaxShell,
	".zsh":   syntaxShell,
	".rb":    syntaxShell,
	".yml":   syntaxShell,
	".yaml":  syntaxShell,
	".toml":  syntaxShell,
	".cfg":   syntaxShell,
	".ini":   syntaxShell,
	".conf":  syntaxShell,
}

var shellNames = map[string]bool{
	"Makefile":      true,
	"Dockerfile":    true,
	"Containerfile": true,
	".gitignore":    true,
}

func languageFor(path string) language {
	if shellNames[filepath.Base(path)] {
		return language{syntax: syntaxShell}
	}
	return language{syntax: extensions[strings.ToLower(filepath.Ext(path))]}
}

// trivial marks each line that does not count as a substantive change.
func (l language) trivial(lines []string) []bool {
	switch l.syntax {
	case syntaxPython:
		return pythonTrivial(lines)
	case syntaxCLike:
		return cLikeTrivial(lines)
	case syntaxShell:
		return shellTrivial(lines)
	}
	out := make([]bool, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimSpace(line) == ""
	}
	return out
}

func isPythonTrivialContent(stripped string) bool {
	switch {
	case stripped == "":
		return true
	case strings.HasPrefix(stripped, "#"):
		return true
	case strings.HasPrefix(stripped, "import "), strings.HasPrefix(stripped, "from "):
		return true
	case stripped == "pass":
		return true
	}
	return false
}

// pythonTrivial walks the file once, tracking docstrings and parenthesised
// import lists.
func pythonTrivial(lines []string) []bool {
	out := make([]bool, 0, len(lines))

	inDocstring := false
	delim := ""
	inImport := false

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if inDocstring {
			out = append(out, true)
			if strings.Contains(stripped, delim) {
				inDocstring = false
			}
			continue
		}

		if inImport {
			out = append(out, true)
			if strings.Contains(stripped, ")") {
				inImport = false
			}
			continue
		}

		if d, ok := docstringDelim(stripped); ok {
			if strings.Count(stripped, d) == 1 {
				inDocstring = true
				delim = d
			}
			out = append(out, true)
			continue
		}

		if isPythonTrivialContent(stripped) && strings.Contains(stripped, "(") && !strings.Contains(stripped, ")") {
			inImport = true
			out = append(out, true)
			continue
		}

		out = append(out, isPythonTrivialContent(stripped))
	}

	return out
}

// docstringDelim returns the triple quote that opens a string-only line,
// allowing a string prefix such as r or b.
func docstringDelim(stripped string) (string, bool) {
	unprefixed := strings.TrimLeft(stripped, "rRuUbBfF")
	for _, d := range []string{`"""`, `'''`} {
		if !strings.HasPrefix(unprefixed, d) {
			continue
		}
		if strings.Count(unprefixed, d) > 1 && !strings.HasSuffix(unprefixed, d) {
			return "", false
		}
		return d, true
	}
	return "", false
}

var (
	cImport      = regexp.MustCompile(`^(import|package|using|use|#include|#import|extern crate|require)\b`)
	bracketsOnly = regexp.MustCompile(`^[{}()\[\];,]+$`)
)

// cLikeTrivial handles //, /* */ and /** */ comments, Go import groups and
// multi-line JavaScript imports.
func cLikeTrivial(lines []string) []bool {
	out := make([]bool, 0, len(lines))

	inBlock := false
	inImportGroup := false
	groupClose := ""

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if inBlock {
			out = append(out, true)
			if strings.Contains(stripped, "*/") {
				inBlock = false
			}
			continue
		}

		if inImportGroup {
			out = append(out, true)
			if strings.Contains(stripped, groupClose) {
				inImportGroup = false
			}
			continue
		}

		switch {
		case stripped == "", strings.HasPrefix(stripped, "//"), bracketsOnly.MatchString(stripped):
			out = append(out, true)

		case strings.HasPrefix(stripped, "/*"):
			out = append(out, true)
			if !strings.Contains(stripped[2:], "*/") {
				inBlock = true
			}

		case cImport.MatchString(stripped):
			out = append(out, true)
			switch {
			case strings.HasSuffix(stripped, "(") && !strings.Contains(stripped, ")"):
				inImportGroup, groupClose = true, ")"
			case strings.Contains(stripped, "{") && !strings.Contains(stripped, "}"):
				inImportGroup, groupClose = true, "}"
			}

		default:
			out = append(out, false)
		}
	}

	return out
}

var shellImport = regexp.MustCompile(`^(source|\.|require|require_relative|include|-include)\s`)

func shellTrivial(lines []string) []bool {
	out := make([]bool, len(lines))
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		out[i] = stripped == "" || strings.HasPrefix(stripped, "#") || shellImport.MatchString(stripped)
	}
	return out
}
