package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

// ErrPolicy marks a policy document that cannot be loaded.
var ErrPolicy = errors.New("policy: invalid policy")

// DefaultThreshold is the substantive line budget used when a policy does
// not set one.
const DefaultThreshold = 3

//go:embed default_policy.yml
var defaultPolicy []byte

// Default returns the raw bytes of the built-in policy.
func Default() []byte {
	return bytes.Clone(defaultPolicy)
}

// Policy is a compiled policy document. It is never mutated after Parse.
type Policy struct {
	Version   int
	Match     MatchMode
	Threshold int
	Bash      PolicyList
	Fetch     PolicyList
	Protected ProtectedPathSet
	Tests     TestFiles
	Workspace Workspace
	Gates     []Gate
}

// TestFiles identifies test sources that need a human for edits.
type TestFiles struct {
	Patterns GlobSet
	// TDDFlag names a file, relative to the project directory, whose
	// presence turns test edits into denials.
	TDDFlag string
}

// Gate is a verification gate together with its compiled triggers.
type Gate struct {
	gate.Gate
	triggers []*regexp.Regexp
}

// Triggered reports whether command matches any of the gate triggers.
func (g Gate) Triggered(command string) bool {
	for _, re := range g.triggers {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// GateFor returns the first gate triggered by any of the given subjects.
func (p *Policy) GateFor(subjects ...string) (Gate, bool) {
	for _, g := range p.Gates {
		for _, s := range subjects {
			if g.Triggered(s) {
				return g, true
			}
		}
	}
	return Gate{}, false
}

// Lookup returns the gate with the given name.
func (p *Policy) Lookup(name string) (Gate, bool) {
	for _, g := range p.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return Gate{}, false
}

type document struct {
	Version   int          `yaml:"version"`
	Match     MatchMode    `yaml:"match"`
	Threshold *int         `yaml:"threshold"`
	Bash      []ruleSpec   `yaml:"bash"`
	Fetch     []ruleSpec   `yaml:"fetch"`
	Protected []string     `yaml:"protected"`
	Tests     testsSpec    `yaml:"tests"`
	Workspace workspaceDoc `yaml:"workspace"`
	Gates     []gate.Gate  `yaml:"gates"`
}

type ruleSpec struct {
	Allow  *string `yaml:"allow"`
	Deny   *string `yaml:"deny"`
	Reason string  `yaml:"reason"`
}

type testsSpec struct {
	Patterns []string `yaml:"patterns"`
	TDDFlag  string   `yaml:"tdd_flag"`
}

type workspaceDoc struct {
	Confine bool     `yaml:"confine"`
	Allow   []string `yaml:"allow"`
}

// Parse decodes and compiles a policy document. Any malformed entry fails
// the whole document; the returned error wraps ErrPolicy and names the
// offending field.
func Parse(data []byte) (*Policy, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrPolicy, err)
	}

	if doc.Version != 0 && doc.Version != 1 {
		return nil, fmt.Errorf("%w: version: unsupported version %d", ErrPolicy, doc.Version)
	}
	if !doc.Match.Valid() {
		return nil, fmt.Errorf("%w: match: unknown mode %q", ErrPolicy, doc.Match)
	}

	p := &Policy{
		Version:   doc.Version,
		Match:     doc.Match,
		Threshold: DefaultThreshold,
		Tests:     TestFiles{Patterns: GlobSet(doc.Tests.Patterns), TDDFlag: doc.Tests.TDDFlag},
		Workspace: Workspace{Confine: doc.Workspace.Confine, Allow: doc.Workspace.Allow},
	}
	if p.Match == "" {
		p.Match = MatchPartial
	}

	if doc.Threshold != nil {
		if *doc.Threshold < 0 {
			return nil, fmt.Errorf("%w: threshold: must not be negative", ErrPolicy)
		}
		p.Threshold = *doc.Threshold
	}

	var err error
	if p.Bash, err = compileRules("bash", doc.Bash, p.Match); err != nil {
		return nil, err
	}
	if p.Fetch, err = compileRules("fetch", doc.Fetch, p.Match); err != nil {
		return nil, err
	}

	if p.Protected, err = NewProtectedPathSet(doc.Protected); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicy, err)
	}

	for i, pattern := range doc.Tests.Patterns {
		if err := validGlob(pattern); err != nil {
			return nil, fmt.Errorf("%w: tests.patterns[%d]: %v", ErrPolicy, i, err)
		}
	}

	seen := make(map[string]bool, len(doc.Gates))
	for i, g := range doc.Gates {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("%w: gates[%d]: %v", ErrPolicy, i, err)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("%w: gates[%d]: duplicate gate %q", ErrPolicy, i, g.Name)
		}
		seen[g.Name] = true

		compiled := Gate{Gate: g}
		for j, t := range g.Triggers {
			re, err := regexp.Compile(t)
			if err != nil {
				return nil, fmt.Errorf("%w: gates[%d].triggers[%d]: %v", ErrPolicy, i, j, err)
			}
			compiled.triggers = append(compiled.triggers, re)
		}
		p.Gates = append(p.Gates, compiled)
	}

	return p, nil
}

func compileRules(field string, specs []ruleSpec, mode MatchMode) (PolicyList, error) {
	list := make(PolicyList, 0, len(specs))
	for i, s := range specs {
		var action Action
		var pattern string
		switch {
		case s.Allow != nil && s.Deny != nil:
			return nil, fmt.Errorf("%w: %s[%d]: rule sets both allow and deny", ErrPolicy, field, i)
		case s.Allow != nil:
			action, pattern = Allow, *s.Allow
		case s.Deny != nil:
			action, pattern = Deny, *s.Deny
		default:
			return nil, fmt.Errorf("%w: %s[%d]: rule needs allow or deny", ErrPolicy, field, i)
		}
		if pattern == "" {
			return nil, fmt.Errorf("%w: %s[%d]: empty pattern", ErrPolicy, field, i)
		}

		rule := NewRuleMode(action, pattern, s.Reason, mode)
		if err := rule.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrPolicy, field, i, err)
		}
		list = append(list, rule)
	}
	return list, nil
}
