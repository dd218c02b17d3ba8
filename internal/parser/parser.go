// Package parser provides shell command parsing utilities.
package parser

import (
	"regexp"
	"strings"
)

// Command represents a parsed simple shell command (one pipeline segment).
type Command struct {
	Raw        string
	Env        map[string]string
	Program    string
	Subcommand string
	Args       []string
	Flags      map[string]string
}

var envVarPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// Parse parses a single shell command string into its components.
// Compound commands should be split with Segments first.
func Parse(cmd string) Command {
	result := Command{
		Raw:   cmd,
		Env:   make(map[string]string),
		Args:  make([]string, 0),
		Flags: make(map[string]string),
	}

	tokens := Tokenize(strings.TrimSpace(cmd))
	if len(tokens) == 0 {
		return result
	}

	idx := 0
	for idx < len(tokens) {
		match := envVarPattern.FindStringSubmatch(tokens[idx])
		if match == nil {
			break
		}
		result.Env[match[1]] = match[2]
		idx++
	}

	if idx >= len(tokens) {
		return result
	}

	result.Program = tokens[idx]
	idx++

	if idx < len(tokens) && !strings.HasPrefix(tokens[idx], "-") && hasSubcommand(result.Program) {
		result.Subcommand = tokens[idx]
		idx++
	}

	for ; idx < len(tokens); idx++ {
		token := tokens[idx]
		if !strings.HasPrefix(token, "-") || token == "-" {
			result.Args = append(result.Args, token)
			continue
		}
		key, value := parseFlag(token)
		result.Flags[key] = value
	}

	return result
}

// Words returns every argument, flag value and env value of the command,
// i.e. every token that may name a file.
func (c Command) Words() []string {
	out := make([]string, 0, len(c.Args)+len(c.Flags)+len(c.Env))
	out = append(out, c.Args...)
	for _, v := range c.Flags {
		if v != "" {
			out = append(out, v)
		}
	}
	for _, v := range c.Env {
		out = append(out, v)
	}
	return out
}

// HasFlag returns true if the command has the specified flag.
func (c Command) HasFlag(flag string) bool {
	_, ok := c.FlagValue(flag)
	return ok
}

// FlagValue returns the value of a flag and whether it exists.
func (c Command) FlagValue(flag string) (string, bool) {
	normalized := strings.TrimLeft(flag, "-")
	for key, value := range c.Flags {
		if strings.TrimLeft(key, "-") == normalized {
			return value, true
		}
	}
	return "", false
}

// String returns the original raw command.
func (c Command) String() string {
	return c.Raw
}

// Segments splits a compound shell command on |, ||, &&, ; and newlines.
// Quoted text is kept intact. Empty segments are dropped and the rest are trimmed.
func Segments(cmd string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for i := 0; i < len(cmd); i++ {
		ch := cmd[i]

		switch ch {
		case '|':
			flush()
			if i+1 < len(cmd) && cmd[i+1] == '|' {
				i++
			}
		case '&':
			if i+1 < len(cmd) && cmd[i+1] == '&' {
				flush()
				i++
				continue
			}
			// Background &, still part of current segment
			current.WriteByte(ch)
		case ';', '\n':
			flush()
		case '\\':
			current.WriteByte(ch)
			if i+1 < len(cmd) {
				i++
				current.WriteByte(cmd[i])
			}
		case '\'', '"':
			quote := ch
			current.WriteByte(ch)
			for i++; i < len(cmd) && cmd[i] != quote; i++ {
				if cmd[i] == '\\' && quote == '"' && i+1 < len(cmd) {
					current.WriteByte(cmd[i])
					i++
				}
				current.WriteByte(cmd[i])
			}
			if i < len(cmd) {
				current.WriteByte(cmd[i])
			}
		default:
			current.WriteByte(ch)
		}
	}
	flush()

	return segments
}

// Tokenize splits a command string into tokens, respecting quotes and escapes.
func Tokenize(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingleQuote := false
	inDoubleQuote := false
	escaped := false
	pending := false

	for _, r := range cmd {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch r {
		case '\\':
			if inSingleQuote {
				current.WriteRune(r)
			} else {
				escaped = true
			}
		case '\'':
			if inDoubleQuote {
				current.WriteRune(r)
			} else {
				inSingleQuote = !inSingleQuote
				pending = true
			}
		case '"':
			if inSingleQuote {
				current.WriteRune(r)
			} else {
				inDoubleQuote = !inDoubleQuote
				pending = true
			}
		case ' ', '\t':
			if inSingleQuote || inDoubleQuote {
				current.WriteRune(r)
			} else if current.Len() > 0 || pending {
				tokens = append(tokens, current.String())
				current.Reset()
				pending = false
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 || pending {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// parseFlag parses a flag token into key and value.
func parseFlag(token string) (string, string) {
	if idx := strings.Index(token, "="); idx != -1 {
		return token[:idx], token[idx+1:]
	}
	return token, ""
}

// hasSubcommand returns true if the program typically has subcommands.
func hasSubcommand(program string) bool {
	switch program {
	case "go", "git", "make", "docker", "kubectl", "npm", "yarn", "cargo", "uv", "gh", "jj":
		return true
	}
	return false
}
