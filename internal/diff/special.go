package diff

import (
	"regexp"
	"strings"
)

// specialCases are checked in order; the first applicable one decides.
var specialCases = []func(*parsed) (Kind, bool){
	pureDeletion,
	typeDefinition,
	singleRename,
}

// pureDeletion applies when after is empty or the diff only removes lines.
func pureDeletion(p *parsed) (Kind, bool) {
	if len(p.before) == 0 {
		return "", false
	}
	if len(p.after) == 0 {
		return PureDeletion, true
	}

	deleted := false
	for _, op := range p.ops {
		switch op.Tag {
		case 'e':
		case 'd':
			deleted = true
		default:
			return "", false
		}
	}
	return PureDeletion, deleted
}

// typeDefinition applies when every changed line sits inside a data-shape
// declaration and none of them is executable.
func typeDefinition(p *parsed) (Kind, bool) {
	removed, added := p.changed()
	if len(removed) == 0 && len(added) == 0 {
		return "", false
	}

	beforeShape := shapeLines(p.before, p.lang)
	afterShape := shapeLines(p.after, p.lang)

	for _, i := range removed {
		if !beforeShape[i] || executable(p.before[i]) {
			return "", false
		}
	}
	for _, j := range added {
		if !afterShape[j] || executable(p.after[j]) {
			return "", false
		}
	}
	return TypeDefinition, true
}

var (
	pyShapeHeader = regexp.MustCompile(`^(\s*)class\s+\w+\s*\(.*\b(?:TypedDict|BaseModel|NamedTuple|Protocol)\b.*\)\s*:`)
	pyClassHeader = regexp.MustCompile(`^(\s*)class\s+\w+.*:\s*$`)
	pyDataclass   = regexp.MustCompile(`^\s*@(?:dataclasses\.)?dataclass\b`)
	goShapeHeader = regexp.MustCompile(`^\s*type\s+\w+(?:\[[^\]]*\])?\s+(?:struct|interface)\s*\{`)
	goTypeLine    = regexp.MustCompile(`^\s*type\s+\w+(?:\[[^\]]*\])?\s*=?\s*[\w.\[\]*]+\s*$`)
	tsShapeHeader = regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?(?:interface\s+\w+[^{]*|type\s+\w+(?:<[^>]*>)?\s*=\s*)\{`)
)

// shapeLines marks lines that belong to a data-shape declaration.
func shapeLines(lines []string, lang language) []bool {
	switch lang.syntax {
	case syntaxPython:
		return pythonShapeLines(lines)
	case syntaxCLike:
		return braceShapeLines(lines)
	}
	return make([]bool, len(lines))
}

// pythonShapeLines marks the declarative lines of TypedDict, BaseModel,
// NamedTuple, Protocol and dataclass bodies. Method bodies are never part of
// the shape, and only field annotations, docstrings, comments, pass and ...
// count as declarations.
func pythonShapeLines(lines []string) []bool {
	out := make([]bool, len(lines))

	inShape, inDef, decorated := false, false, false
	shapeIndent, defIndent := 0, 0
	doc := ""

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		lineIndent := len(line) - len(strings.TrimLeft(line, " \t"))

		if doc != "" {
			out[i] = inShape && !inDef
			if strings.Contains(stripped, doc) {
				doc = ""
			}
			continue
		}

		if stripped != "" {
			if inDef && lineIndent <= defIndent {
				inDef = false
			}
			if inShape && lineIndent <= shapeIndent {
				inShape, inDef = false, false
			}
		}

		if pyDataclass.MatchString(line) {
			decorated = true
			out[i] = true
			continue
		}

		if m := pyShapeHeader.FindStringSubmatch(line); m != nil {
			inShape, inDef, shapeIndent, decorated = true, false, len(m[1]), false
			out[i] = true
			continue
		}
		if m := pyClassHeader.FindStringSubmatch(line); m != nil && decorated {
			inShape, inDef, shapeIndent, decorated = true, false, len(m[1]), false
			out[i] = true
			continue
		}
		if stripped != "" && !strings.HasPrefix(stripped, "@") && !strings.HasPrefix(stripped, "#") {
			decorated = false
		}

		if !inShape {
			continue
		}
		if m := pyDef.FindStringSubmatch(line); m != nil && !inDef {
			inDef, defIndent = true, len(m[1])
			continue
		}

		if d, ok := docstringDelim(stripped); ok {
			if strings.Count(stripped, d) == 1 {
				doc = d
			}
			out[i] = !inDef
			continue
		}
		if !inDef {
			out[i] = pythonDeclaration(stripped)
		}
	}

	return out
}

var (
	pyDef        = regexp.MustCompile(`^(\s*)(?:async\s+)?def\b`)
	pyField      = regexp.MustCompile(`^[A-Za-z_]\w*\s*:\s*([^=]+?)\s*(?:=\s*(.+))?$`)
	pyFieldMaker = regexp.MustCompile(`\b(?:dataclasses\.)?[Ff]ield\(`)
)

// pythonDeclaration reports whether a line inside a shape body declares
// rather than computes: a blank line, a comment, pass, ... or an annotated
// field whose default is a literal or a field factory.
func pythonDeclaration(stripped string) bool {
	switch {
	case stripped == "", stripped == "pass", stripped == "...", strings.HasPrefix(stripped, "#"):
		return true
	}
	m := pyField.FindStringSubmatch(stripped)
	if m == nil || strings.Contains(m[1], "(") {
		return false
	}
	def := pyFieldMaker.ReplaceAllString(m[2], "")
	return !strings.Contains(def, "(")
}

// braceShapeLines tracks Go and TypeScript struct, interface and object type
// bodies by brace depth.
func braceShapeLines(lines []string) []bool {
	out := make([]bool, len(lines))

	depth := 0
	inShape := false

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if !inShape {
			switch {
			case goShapeHeader.MatchString(line), tsShapeHeader.MatchString(line):
				inShape = true
				depth = 0
			case goTypeLine.MatchString(line):
				out[i] = true
				continue
			default:
				continue
			}
		}

		out[i] = true
		depth += strings.Count(stripped, "{") - strings.Count(stripped, "}")
		if depth <= 0 {
			inShape = false
		}
	}

	return out
}

var executableStart = regexp.MustCompile(`^(?:def|async|func|return|yield|if|elif|else|for|while|switch|case|try|except|catch|finally|with|raise|throw|go|defer|assert|lambda|del|await|print)\b`)

// executable reports whether a line contains a statement rather than a
// field, method signature or annotation.
func executable(line string) bool {
	stripped := strings.TrimSpace(line)
	if executableStart.MatchString(stripped) {
		return true
	}
	// Arrow functions and bare call statements.
	return strings.Contains(stripped, "=>") || strings.HasSuffix(stripped, ");")
}
