package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed reports hook input that cannot be decoded.
var ErrMalformed = errors.New("hook: malformed input")

const preToolUse = "PreToolUse"

// Input represents the hook input from Claude Code.
type Input struct {
	HookEventName string    `json:"hook_event_name"`
	SessionID     string    `json:"session_id,omitempty"`
	ToolName      string    `json:"tool_name"`
	ToolInput     ToolInput `json:"tool_input"`
	Cwd           string    `json:"cwd,omitempty"`
}

// ToolInput holds the tool arguments gatekeeper inspects.
type ToolInput struct {
	Command      string   `json:"command,omitempty"`
	URL          string   `json:"url,omitempty"`
	FilePath     string   `json:"file_path,omitempty"`
	NotebookPath string   `json:"notebook_path,omitempty"`
	Path         string   `json:"path,omitempty"`
	OldString    string   `json:"old_string,omitempty"`
	NewString    string   `json:"new_string,omitempty"`
	ReplaceAll   bool     `json:"replace_all,omitempty"`
	Edits        []EditOp `json:"edits,omitempty"`
	Content      *string  `json:"content,omitempty"`
}

// EditOp is one replacement of a MultiEdit.
type EditOp struct {
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// Decode reads a single hook event from r.
func Decode(r io.Reader) (Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Input{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.ToolName == "" {
		return Input{}, fmt.Errorf("%w: missing tool_name", ErrMalformed)
	}
	return in, nil
}

// Output is the PreToolUse response understood by Claude Code.
type Output struct {
	HookSpecificOutput SpecificOutput `json:"hookSpecificOutput"`
}

type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}
