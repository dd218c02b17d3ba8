package policy

import (
	"testing"
)

func TestMatchLastMatchWins(t *testing.T) {
	tests := []struct {
		name    string
		rules   PolicyList
		subject string
		want    Action
	}{
		{
			name:    "allow then deny",
			rules:   PolicyList{NewRule(Allow, "^A$", ""), NewRule(Deny, "^A$", "no")},
			subject: "A",
			want:    Deny,
		},
		{
			name:    "deny then allow",
			rules:   PolicyList{NewRule(Deny, "^A$", "no"), NewRule(Allow, "^A$", "")},
			subject: "A",
			want:    Allow,
		},
		{
			name:    "broad allow narrowed by later deny",
			rules:   PolicyList{NewRule(Allow, `^git\b`, ""), NewRule(Deny, `^git push --force`, "force push")},
			subject: "git push --force origin main",
			want:    Deny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.subject, tt.rules)
			if !ok {
				t.Fatalf("Match(%q) did not match", tt.subject)
			}
			if got.Action != tt.want {
				t.Errorf("Match(%q).Action = %s, want %s", tt.subject, got.Action, tt.want)
			}
		})
	}
}

func TestMatchScenario(t *testing.T) {
	rules := PolicyList{
		NewRule(Allow, `^git status$`, ""),
		NewRule(Deny, `^git push --force$`, "force push is not allowed"),
		NewRule(Allow, `^git push`, ""),
	}

	tests := []struct {
		subject string
		matched bool
		action  Action
		index   int
	}{
		{"git push --force", true, Allow, 2},
		{"git push", true, Allow, 2},
		{"git status", true, Allow, 0},
		{"ls", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got, ok := Match(tt.subject, rules)
			if ok != tt.matched {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.subject, ok, tt.matched)
			}
			if !ok {
				return
			}
			if got.Action != tt.action || got.Index != tt.index {
				t.Errorf("Match(%q) = %+v, want action %s index %d", tt.subject, got, tt.action, tt.index)
			}
		})
	}
}

func TestMatchScenarioFullMode(t *testing.T) {
	rules := PolicyList{
		NewRuleMode(Allow, `^git status$`, "", MatchFull),
		NewRuleMode(Deny, `^git push --force$`, "force push is not allowed", MatchFull),
		NewRuleMode(Allow, `^git push`, "", MatchFull),
	}

	tests := []struct {
		subject string
		matched bool
		action  Action
	}{
		{"git push --force", true, Deny},
		{"git push", true, Allow},
		{"ls", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got, ok := Match(tt.subject, rules)
			if ok != tt.matched {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.subject, ok, tt.matched)
			}
			if ok && got.Action != tt.action {
				t.Errorf("Match(%q).Action = %s, want %s", tt.subject, got.Action, tt.action)
			}
		})
	}
}

func TestMatchScenarioDenyWhenLast(t *testing.T) {
	// "^git push" also matches the forced push, so the deny only wins when it comes last.
	rules := PolicyList{
		NewRule(Allow, `^git status$`, ""),
		NewRule(Allow, `^git push`, ""),
		NewRule(Deny, `^git push --force$`, "force push is not allowed"),
	}

	got, ok := Match("git push --force", rules)
	if !ok || got.Action != Deny {
		t.Fatalf("Match = %+v, %v; want deny", got, ok)
	}
	if got.Reason != "force push is not allowed" {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestMatchEmptyList(t *testing.T) {
	if _, ok := Match("anything", nil); ok {
		t.Error("empty list must never match")
	}
	if _, ok := Match("", PolicyList{}); ok {
		t.Error("empty list must never match")
	}
}

func TestMatchMalformedRuleFailsClosed(t *testing.T) {
	rules := PolicyList{
		NewRule(Deny, `^rm\b`, "no rm"),
		NewRule(Allow, `^rm (`, ""),
	}

	if err := rules.Err(); err == nil {
		t.Fatal("expected compile error")
	}

	got, ok := Match("rm (", rules)
	if !ok {
		t.Fatal("expected the valid deny rule to match")
	}
	if got.Action != Deny {
		t.Errorf("malformed allow rule leaked: got %s", got.Action)
	}

	if _, ok := Match("ls", PolicyList{NewRule(Allow, "(", "")}); ok {
		t.Error("malformed rule must not match")
	}
}

func TestZeroValueRuleNeverMatches(t *testing.T) {
	var r Rule
	if r.Err() == nil {
		t.Error("zero rule should report an error")
	}
	if _, ok := Match("", PolicyList{r}); ok {
		t.Error("zero rule must not match")
	}
}

func TestUnknownActionFailsClosed(t *testing.T) {
	r := NewRule(Action("maybe"), ".*", "")
	if r.Err() == nil {
		t.Fatal("expected error for unknown action")
	}
	if _, ok := Match("x", PolicyList{r}); ok {
		t.Error("rule with unknown action must not match")
	}
}

func TestActionValid(t *testing.T) {
	if !Allow.Valid() || !Deny.Valid() {
		t.Error("allow and deny must be valid")
	}
	if Action("ask").Valid() {
		t.Error("ask is not a rule action")
	}
}
