// Package diff classifies proposed file edits as trivial or substantive.
//
// An edit is trivial when it matches one of the special shapes (pure
// deletion, data-shape definition, single identifier rename) or when the
// number of substantive changed lines stays within a threshold. Lines that
// only differ in whitespace, comments, imports, blank lines and docstrings
// are not substantive.
package diff

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrAmbiguous is returned for edits that cannot be diffed as text.
var ErrAmbiguous = errors.New("diff: edit cannot be classified")

// EditProposal is a proposed change to one file.
type EditProposal struct {
	Path   string `json:"path" yaml:"path"`
	Before string `json:"before" yaml:"before"`
	After  string `json:"after" yaml:"after"`
}

// Kind names a special-cased edit shape.
type Kind string

const (
	PureDeletion   Kind = "pure_deletion"
	TypeDefinition Kind = "type_definition"
	Rename         Kind = "rename"
)

// Verdict is the classification of an edit.
type Verdict struct {
	SubstantiveLines int  `json:"substantive_line_count" yaml:"substantive_line_count"`
	SpecialCased     bool `json:"is_special_cased" yaml:"is_special_cased"`
	Kind             Kind `json:"special_case_kind,omitempty" yaml:"special_case_kind,omitempty"`
	Trivial          bool `json:"trivial" yaml:"trivial"`
	Threshold        int  `json:"threshold" yaml:"threshold"`
}

// String summarises the verdict for logs and reasons.
func (v Verdict) String() string {
	if v.SpecialCased {
		return string(v.Kind)
	}
	return fmt.Sprintf("%d substantive lines (threshold %d)", v.SubstantiveLines, v.Threshold)
}

// Classify computes the verdict for edit. The result depends only on its
// arguments. ErrAmbiguous is returned for binary content.
func Classify(edit EditProposal, threshold int) (Verdict, error) {
	if err := checkText(edit.Before, "before"); err != nil {
		return Verdict{}, err
	}
	if err := checkText(edit.After, "after"); err != nil {
		return Verdict{}, err
	}

	p := parse(edit)

	for _, special := range specialCases {
		if kind, ok := special(p); ok {
			return Verdict{SpecialCased: true, Kind: kind, Trivial: true, Threshold: threshold}, nil
		}
	}

	n := countSubstantive(p)
	return Verdict{SubstantiveLines: n, Trivial: n <= threshold, Threshold: threshold}, nil
}

func checkText(s, side string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %s contains NUL bytes", ErrAmbiguous, side)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrAmbiguous, side)
	}
	return nil
}

// parsed is a line diff indexed by position.
type parsed struct {
	lang   language
	before []string
	after  []string
	// ops compares raw lines; indentation changes are replacements.
	ops []difflib.OpCode
}

func parse(edit EditProposal) *parsed {
	p := &parsed{
		lang:   languageFor(edit.Path),
		before: splitLines(edit.Before),
		after:  splitLines(edit.After),
	}
	p.ops = difflib.NewMatcher(p.before, p.after).GetOpCodes()
	return p
}

// changed returns the indexes of removed lines in before and added lines in after.
func (p *parsed) changed() (removed, added []int) {
	for _, op := range p.ops {
		if op.Tag == 'e' {
			continue
		}
		for i := op.I1; i < op.I2; i++ {
			removed = append(removed, i)
		}
		for j := op.J1; j < op.J2; j++ {
			added = append(added, j)
		}
	}
	return removed, added
}

func countSubstantive(p *parsed) int {
	ops := difflib.NewMatcher(stripAll(p.before), stripAll(p.after)).GetOpCodes()

	var beforeTrivial, afterTrivial []bool
	count := 0
	for _, op := range ops {
		if op.Tag == 'e' {
			continue
		}
		if beforeTrivial == nil {
			beforeTrivial = p.lang.trivial(p.before)
			afterTrivial = p.lang.trivial(p.after)
		}

		removed := countFalse(beforeTrivial[op.I1:op.I2])
		added := countFalse(afterTrivial[op.J1:op.J2])

		switch op.Tag {
		case 'd':
			count += removed
		case 'i':
			count += added
		case 'r':
			count += max(removed, added)
		}
	}
	return count
}

func countFalse(flags []bool) int {
	n := 0
	for _, f := range flags {
		if !f {
			n++
		}
	}
	return n
}

// splitLines splits s into lines without terminators. A trailing newline
// does not produce an empty last line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func stripAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}
