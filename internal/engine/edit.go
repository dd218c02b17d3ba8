package engine

import (
	"errors"

	"github.com/adrianpk/gatekeeper/internal/diff"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

func (e *Engine) decideEdit(p *policy.Policy, req Request) Decision {
	path := req.Subject
	if req.Edit != nil && req.Edit.Path != "" {
		path = req.Edit.Path
	}
	if path == "" {
		return Decision{Verdict: Ask}
	}

	base, root := e.base(req), e.root(req)
	if policy.IsCredentialPath(path, base) {
		return Decision{
			Verdict:     Deny,
			Reason:      reasonCredential,
			MatchedRule: "protected:credentials",
			subject:     path,
		}
	}

	abs := policy.ResolvePath(path, base)
	display := policy.DisplayPath(abs, root)
	// A symlink is protected by its own name as well as by its target.
	names := []string{display}
	if literal := policy.DisplayPath(policy.CleanPath(path, base), root); literal != display {
		names = append(names, literal)
	}

	if glob, ok := matchAny(p.Tests.Patterns.Match, names); ok {
		if p.Tests.TDDFlag != "" && e.exists(joinRoot(root, p.Tests.TDDFlag)) {
			return Decision{Verdict: Deny, Reason: tddReason(display), MatchedRule: "tests:tdd " + glob, subject: display}
		}
		return Decision{Verdict: Ask, Reason: reasonProtected, MatchedRule: "tests:" + glob, subject: display}
	}
	if pattern, ok := matchAny(p.Protected.Match, names); ok {
		return Decision{Verdict: Ask, Reason: reasonProtected, MatchedRule: "protected:" + pattern, subject: display}
	}
	if p.Workspace.Outside(abs, root) {
		return Decision{Verdict: Ask, Reason: reasonProtected, MatchedRule: "workspace:outside", subject: display}
	}

	if req.Edit == nil {
		return Decision{Verdict: Ask, subject: display}
	}

	edit := *req.Edit
	edit.Path = display
	v, err := diff.Classify(edit, e.thresholdFor(p))
	if err != nil {
		if !errors.Is(err, diff.ErrAmbiguous) {
			e.logger.Warn().Err(err).Str("path", display).Msg("classification failed")
		}
		return Decision{Verdict: Ask, MatchedRule: "classifier:ambiguous", subject: display}
	}

	d := Decision{Classification: &v, subject: display}
	switch {
	case v.SpecialCased:
		d.Verdict = Allow
		d.Reason = reasonEditAllowed
		d.MatchedRule = "classifier:" + string(v.Kind)
	case v.Trivial:
		d.Verdict = Allow
		d.Reason = reasonEditAllowed
		d.MatchedRule = "classifier:trivial"
	default:
		d.Verdict = Ask
		d.MatchedRule = "classifier:substantive"
	}
	return d
}

func matchAny(match func(string) (string, bool), paths []string) (string, bool) {
	for _, path := range paths {
		if pattern, ok := match(path); ok {
			return pattern, true
		}
	}
	return "", false
}
