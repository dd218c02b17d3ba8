package diff

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type token struct {
	text  string
	ident bool
}

// tokenize splits text into identifiers, numbers and single punctuation
// runes. Whitespace separates tokens and is dropped. String and comment
// contents are tokenized like code so renames inside them are seen.
func tokenize(text string) []token {
	var out []token
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '_' || unicode.IsLetter(r):
			j := i + size
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += s2
			}
			out = append(out, token{text: text[i:j], ident: true})
			i = j

		case unicode.IsDigit(r):
			j := i + size
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if r2 != '_' && r2 != '.' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += s2
			}
			out = append(out, token{text: text[i:j]})
			i = j

		default:
			out = append(out, token{text: text[i : i+size]})
			i += size
		}
	}
	return out
}

// keywords may never take part in a rename.
var keywords = map[string]bool{
	// Python
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "class": true, "def": true, "del": true, "elif": true,
	"except": true, "finally": true, "from": true, "global": true, "in": true,
	"is": true, "lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "try": true, "while": true, "with": true, "yield": true, "self": true,
	// Go
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true, "interface": true,
	"map": true, "package": true, "range": true, "return": true, "select": true,
	"struct": true, "switch": true, "type": true, "var": true, "nil": true,
	"true": true, "false": true,
	// JavaScript and TypeScript
	"let": true, "new": true, "this": true, "throw": true, "catch": true, "function": true,
	"typeof": true, "instanceof": true, "void": true, "delete": true, "export": true,
	"extends": true, "implements": true, "null": true, "undefined": true, "enum": true,
	"static": true, "public": true, "private": true, "protected": true, "super": true,
}

// singleRename applies when the only difference between the texts is one
// identifier replaced by another, everywhere it occurred. The new name must
// not appear anywhere in the old text, so an existing identifier in another
// scope is never captured by the rename. The old name must be bound by the
// text itself; see localBinding.
func singleRename(p *parsed) (Kind, bool) {
	if len(p.before) == 0 || len(p.after) == 0 {
		return "", false
	}

	before := tokenize(joinLines(p.before))
	after := tokenize(joinLines(p.after))
	if len(before) != len(after) {
		return "", false
	}

	var oldName, newName string
	for i := range before {
		b, a := before[i], after[i]
		if b.text == a.text {
			continue
		}
		if !b.ident || !a.ident || keywords[b.text] || keywords[a.text] {
			return "", false
		}
		if oldName == "" {
			oldName, newName = b.text, a.text
			continue
		}
		if b.text != oldName || a.text != newName {
			return "", false
		}
	}
	if oldName == "" {
		return "", false
	}

	for _, t := range after {
		if t.text == oldName {
			return "", false
		}
	}
	for _, t := range before {
		if t.text == newName {
			return "", false
		}
	}
	if !localBinding(p.before, oldName, p.lang) {
		return "", false
	}
	return Rename, true
}

var (
	importLine   = regexp.MustCompile(`^\s*(?:import|from|require|use|using|#include|#import|extern\s+crate)\b|\b(?:require|import)\s*\(`)
	callableLine = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?(?:def|func|function)\b|\blambda\b|=>`)
)

// declarers introduce the identifier that follows them.
var declarers = map[string]bool{
	"def": true, "class": true, "func": true, "type": true, "var": true,
	"const": true, "let": true, "function": true, "for": true, "as": true,
}

// localBinding reports whether name is declared in lines and no occurrence
// is a member access, an imported name or a keyword argument.
func localBinding(lines []string, name string, lang language) bool {
	declared := false
	depth := 0

	for _, line := range lines {
		toks := tokenize(line)
		callable := callableLine.MatchString(line)
		target := assignTargets(toks)

		for i, t := range toks {
			switch t.text {
			case "(", "[":
				depth++
				continue
			case ")", "]":
				depth = max(depth-1, 0)
				continue
			}
			if t.text != name {
				continue
			}

			prev, next := tokenText(toks, i-1), tokenText(toks, i+1)
			assigned := next == "=" && tokenText(toks, i+2) != "="

			switch {
			case importLine.MatchString(line):
				return false
			case prev == ".":
				return false
			case depth > 0 && assigned && !callable:
				return false
			}

			switch {
			case declarers[prev]:
				declared = true
			case callable && depth > 0 && (prev == "(" || prev == "," || prev == "*"):
				declared = true
			case depth == 0 && i < target:
				declared = true
			case lang.syntax == syntaxPython && i == 0 && next == ":":
				declared = true
			}
		}
	}
	return declared
}

// assignTargets returns the index of the top-level = or := that ends a
// statement's list of assignment targets, or 0 when the line does not start
// with one.
func assignTargets(toks []token) int {
	for i, t := range toks {
		switch {
		case t.ident && !keywords[t.text], t.text == ",":
			continue
		case t.text == "=" && i > 0 && tokenText(toks, i+1) != "=":
			return i
		case t.text == ":" && i > 0 && tokenText(toks, i+1) == "=":
			return i
		}
		return 0
	}
	return 0
}

func tokenText(toks []token, i int) string {
	if i < 0 || i >= len(toks) {
		return ""
	}
	return toks[i].text
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
