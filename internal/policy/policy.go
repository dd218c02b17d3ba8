// Package policy provides rule lists, path protection and the policy store
// used to decide on agent tool invocations.
package policy

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
)

// Action is the effect of a matching rule.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// Valid reports whether a is a known rule action.
func (a Action) Valid() bool {
	return a == Allow || a == Deny
}

// MatchMode selects how a rule pattern is applied to a subject.
type MatchMode string

const (
	// MatchPartial matches anywhere in the subject unless the pattern anchors itself.
	MatchPartial MatchMode = "partial"
	// MatchFull requires the pattern to cover the whole subject.
	MatchFull MatchMode = "full"
)

// Valid reports whether m is a known match mode. The empty mode means partial.
func (m MatchMode) Valid() bool {
	return m == "" || m == MatchPartial || m == MatchFull
}

// Rule pairs a regular expression with the action taken when it matches.
// Rules are immutable once built.
type Rule struct {
	Pattern string
	Action  Action
	Reason  string

	re  *regexp.Regexp
	err error
}

// NewRule compiles pattern and returns the rule. A pattern that does not
// compile is kept with its error so the list can still be evaluated; such a
// rule never matches. Loaders that must fail closed should check Err.
func NewRule(action Action, pattern, reason string) Rule {
	return NewRuleMode(action, pattern, reason, MatchPartial)
}

// NewRuleMode is NewRule with an explicit match mode.
func NewRuleMode(action Action, pattern, reason string, mode MatchMode) Rule {
	expr := pattern
	if mode == MatchFull {
		expr = `^(?:` + pattern + `)$`
	}
	re, err := regexp.Compile(expr)
	if err == nil && !action.Valid() {
		err = fmt.Errorf("unknown action %q", action)
		re = nil
	}
	return Rule{Pattern: pattern, Action: action, Reason: reason, re: re, err: err}
}

// Err returns the compile error of the rule pattern, if any.
func (r Rule) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.re == nil {
		return fmt.Errorf("rule %q was not compiled", r.Pattern)
	}
	return nil
}

func (r Rule) matches(subject string) bool {
	if r.re == nil {
		return false
	}
	return r.re.MatchString(subject)
}

// PolicyList is an ordered list of rules for one action kind.
// Declaration order is priority: the last matching rule wins.
type PolicyList []Rule

// Err returns the first compile error in the list.
func (l PolicyList) Err() error {
	for i, r := range l {
		if err := r.Err(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// MatchResult describes the rule that decided a match.
type MatchResult struct {
	Action  Action
	Reason  string
	Index   int
	Pattern string
}

// Match evaluates subject against every rule in order and returns the last
// rule that matched. The second return value is false when no rule matched.
// Rules whose pattern failed to compile are skipped with a warning.
func Match(subject string, rules PolicyList) (MatchResult, bool) {
	var result MatchResult
	matched := false

	for i, rule := range rules {
		if err := rule.Err(); err != nil {
			log.Warn().Err(err).Int("rule", i).Str("pattern", rule.Pattern).Msg("skipping malformed rule")
			continue
		}
		if !rule.matches(subject) {
			continue
		}
		result = MatchResult{Action: rule.Action, Reason: rule.Reason, Index: i, Pattern: rule.Pattern}
		matched = true
	}

	return result, matched
}

// Matches reports whether any rule in the list matches subject, regardless of action.
func (l PolicyList) Matches(subject string) bool {
	_, ok := Match(subject, l)
	return ok
}
