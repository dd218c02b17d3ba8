package engine

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/adrianpk/gatekeeper/internal/gate"
	"github.com/adrianpk/gatekeeper/internal/parser"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

// NormalizeCommand trims cmd, converts line endings to LF and applies NFC.
func NormalizeCommand(cmd string) string {
	cmd = strings.ReplaceAll(cmd, "\r\n", "\n")
	cmd = strings.ReplaceAll(cmd, "\r", "\n")
	return norm.NFC.String(strings.TrimSpace(cmd))
}

// NormalizeURL trims raw, applies NFC and lower-cases the scheme and host.
func NormalizeURL(raw string) string {
	raw = norm.NFC.String(strings.TrimSpace(raw))
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func (e *Engine) decideBash(ctx context.Context, p *policy.Policy, req Request) Decision {
	cmd := NormalizeCommand(req.Subject)
	if cmd == "" {
		return Decision{Verdict: Ask, subject: cmd}
	}

	segments := parser.Segments(cmd)
	for _, seg := range segments {
		if arg, ok := policy.CredentialArg(parser.Parse(seg), e.base(req)); ok {
			return Decision{
				Verdict:     Deny,
				Reason:      reasonCredential,
				MatchedRule: "protected:credentials " + arg,
				subject:     cmd,
			}
		}
	}

	d := matchCommand(p.Bash, cmd, segments)
	d.subject = cmd
	if d.Verdict == Deny {
		return d
	}

	g, ok := p.GateFor(append([]string{cmd}, segments...)...)
	if !ok {
		return d
	}

	e.logger.Info().Str("gate", g.Name).Str("command", cmd).Msg("running verification gate")
	run := e.runner.Run(ctx, g.Gate)
	d.Gate = &run
	d.MatchedRule = "gate:" + g.Name

	if run.Overall == gate.Fail {
		d.Verdict = Deny
		d.Reason = run.Reason()
		return d
	}

	// A passing gate keeps the rule verdict: it never allows what the rules did not.
	if d.Verdict != Allow {
		return d
	}
	d.Reason = "Auto-allowed: gate " + g.Name + " passed"
	if len(run.Warnings) > 0 {
		d.Reason += " with warnings: " + strings.Join(run.Warnings, "; ")
	}
	return d
}

// matchCommand applies the bash rules to a possibly compound command. Any
// segment that is denied denies the whole command; it is allowed only when
// every segment is allowed.
func matchCommand(rules policy.PolicyList, cmd string, segments []string) Decision {
	whole, ok := policy.Match(cmd, rules)
	if len(segments) <= 1 {
		return fromMatch("bash", whole, ok, reasonCommandAllowed)
	}
	if ok && whole.Action == policy.Deny {
		return fromMatch("bash", whole, ok, reasonCommandAllowed)
	}

	var last policy.MatchResult
	allAllowed := true
	for _, seg := range segments {
		m, ok := policy.Match(seg, rules)
		if ok && m.Action == policy.Deny {
			return fromMatch("bash", m, ok, reasonCommandAllowed)
		}
		if !ok || m.Action != policy.Allow {
			allAllowed = false
			continue
		}
		last = m
	}
	if !allAllowed {
		return Decision{Verdict: Ask}
	}
	return fromMatch("bash", last, true, reasonCommandAllowed)
}

func decideFetch(p *policy.Policy, raw string) Decision {
	u := NormalizeURL(raw)
	if u == "" {
		return Decision{Verdict: Ask, subject: u}
	}
	m, ok := policy.Match(u, p.Fetch)
	d := fromMatch("fetch", m, ok, reasonURLAllowed)
	d.subject = u
	return d
}

func fromMatch(list string, m policy.MatchResult, ok bool, allowReason string) Decision {
	if !ok {
		return Decision{Verdict: Ask}
	}
	d := Decision{MatchedRule: ruleRef(list, m)}
	switch m.Action {
	case policy.Deny:
		d.Verdict = Deny
		d.Reason = m.Reason
		if d.Reason == "" {
			d.Reason = "denied by rule " + m.Pattern
		}
	case policy.Allow:
		d.Verdict = Allow
		d.Reason = allowReason
	default:
		d.Verdict = Ask
		d.MatchedRule = ""
	}
	return d
}
