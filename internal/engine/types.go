package engine

import (
	"github.com/adrianpk/gatekeeper/internal/diff"
	"github.com/adrianpk/gatekeeper/internal/gate"
)

// Verdict is the outcome of a decision.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
	Ask   Verdict = "ask"
)

// Kind is the kind of action an agent proposes.
type Kind string

const (
	Bash  Kind = "bash"
	Fetch Kind = "fetch"
	Edit  Kind = "edit"
	Write Kind = "write"
)

var toolKinds = map[string]Kind{
	"Bash":         Bash,
	"WebFetch":     Fetch,
	"Edit":         Edit,
	"MultiEdit":    Edit,
	"NotebookEdit": Edit,
	"Write":        Write,
}

// KindForTool maps a Claude Code tool name to an action kind.
func KindForTool(tool string) (Kind, bool) {
	k, ok := toolKinds[tool]
	return k, ok
}

// Request is one proposed action.
type Request struct {
	Kind Kind   `json:"action_kind"`
	Tool string `json:"tool,omitempty"`
	// Subject is the command for bash, the URL for fetch and the file path
	// for edit and write.
	Subject string             `json:"subject"`
	Edit    *diff.EditProposal `json:"edit,omitempty"`
	// Dir resolves relative paths. Empty means the project directory.
	Dir string `json:"cwd,omitempty"`
}

// Decision is the verdict for a request.
type Decision struct {
	ID             string        `json:"id"`
	Verdict        Verdict       `json:"verdict"`
	Reason         string        `json:"reason,omitempty"`
	MatchedRule    string        `json:"matched_rule,omitempty"`
	Classification *diff.Verdict `json:"classification,omitempty"`
	Gate           *gate.Run     `json:"gate,omitempty"`

	subject string
}

const (
	reasonCommandAllowed = "Auto-allowed: command matches allowlist"
	reasonURLAllowed     = "Auto-allowed: URL matches allowlist"
	reasonEditAllowed    = "Auto-allowed: safe edit pattern detected"
	reasonProtected      = "protected path"
	reasonCredential     = "path is protected and cannot be accessed. User must perform this action manually."
)

func tddReason(path string) string {
	return "BLOCKED: Cannot modify test files during TDD implementation phase. Test file: " + path +
		". If tests need changes, return a detailed analysis report explaining what modifications are needed and why, then exit to let the user make the changes."
}
