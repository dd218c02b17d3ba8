// Package hook adapts Claude Code PreToolUse events to the decision engine.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/adrianpk/gatekeeper/internal/diff"
	"github.com/adrianpk/gatekeeper/internal/engine"
)

// Decider decides proposed actions.
type Decider interface {
	Decide(ctx context.Context, req engine.Request) engine.Decision
}

// Evaluator turns hook events into engine requests.
type Evaluator struct {
	decider  Decider
	readFile func(path string) ([]byte, error)
}

// NewEvaluator creates a new hook evaluator.
func NewEvaluator(d Decider) *Evaluator {
	return &Evaluator{decider: d, readFile: os.ReadFile}
}

// Handle decodes one event from r, decides it and writes the hook response
// to w. Ask writes nothing, which defers to the normal permission prompt.
func (e *Evaluator) Handle(ctx context.Context, r io.Reader, w io.Writer) (engine.Decision, error) {
	in, err := Decode(r)
	if err != nil {
		return engine.Decision{}, err
	}

	d := e.Evaluate(ctx, in)
	if d.Verdict == engine.Ask {
		return d, nil
	}

	out := Output{HookSpecificOutput: SpecificOutput{
		HookEventName:            preToolUse,
		PermissionDecision:       string(d.Verdict),
		PermissionDecisionReason: d.Reason,
	}}
	return d, json.NewEncoder(w).Encode(out)
}

// Evaluate decides a decoded event. Events other than PreToolUse are not
// decided and yield Ask.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) engine.Decision {
	if in.HookEventName != "" && in.HookEventName != preToolUse {
		log.Debug().Str("event", in.HookEventName).Msg("ignoring hook event")
		return engine.Decision{Verdict: engine.Ask}
	}
	return e.decider.Decide(ctx, e.Request(in))
}

// Request builds the engine request for in. Edits are reconstructed against
// the current file content so the classifier sees whole files.
func (e *Evaluator) Request(in Input) engine.Request {
	req := engine.Request{Tool: in.ToolName, Dir: in.Cwd}
	ti := in.ToolInput

	kind, ok := engine.KindForTool(in.ToolName)
	if !ok {
		req.Kind = engine.Kind(strings.ToLower(in.ToolName))
		req.Subject = firstNonEmpty(ti.FilePath, ti.Path, ti.Command, ti.URL)
		return req
	}
	req.Kind = kind

	switch in.ToolName {
	case "Bash":
		req.Subject = ti.Command
	case "WebFetch":
		req.Subject = ti.URL
	case "NotebookEdit":
		req.Subject = ti.NotebookPath
	case "Write":
		req.Subject = ti.FilePath
		if ti.Content != nil {
			before, _ := e.current(ti.FilePath, in.Cwd)
			req.Edit = &diff.EditProposal{Path: ti.FilePath, Before: before, After: *ti.Content}
		}
	case "Edit":
		req.Subject = ti.FilePath
		req.Edit = e.reconstruct(ti.FilePath, in.Cwd, []EditOp{{OldString: ti.OldString, NewString: ti.NewString, ReplaceAll: ti.ReplaceAll}})
	case "MultiEdit":
		req.Subject = ti.FilePath
		req.Edit = e.reconstruct(ti.FilePath, in.Cwd, ti.Edits)
	}
	return req
}

// reconstruct applies ops to the file at path. When the file cannot be read
// or an old string is not found, the proposal falls back to the raw
// old and new strings.
func (e *Evaluator) reconstruct(path, cwd string, ops []EditOp) *diff.EditProposal {
	if path == "" || len(ops) == 0 {
		return nil
	}

	before, found := e.current(path, cwd)
	after := before
	applied := found
	for _, op := range ops {
		if !applied {
			break
		}
		switch {
		case op.OldString == "" && after == "":
			after = op.NewString
		case op.OldString == "" || !strings.Contains(after, op.OldString):
			applied = false
		case op.ReplaceAll:
			after = strings.ReplaceAll(after, op.OldString, op.NewString)
		default:
			after = strings.Replace(after, op.OldString, op.NewString, 1)
		}
	}
	if applied {
		return &diff.EditProposal{Path: path, Before: before, After: after}
	}

	if !found && len(ops) == 1 && ops[0].OldString == "" {
		return &diff.EditProposal{Path: path, After: ops[0].NewString}
	}

	olds := make([]string, 0, len(ops))
	news := make([]string, 0, len(ops))
	for _, op := range ops {
		olds = append(olds, op.OldString)
		news = append(news, op.NewString)
	}
	return &diff.EditProposal{Path: path, Before: strings.Join(olds, "\n"), After: strings.Join(news, "\n")}
}

// current returns the content of path and whether it exists.
func (e *Evaluator) current(path, cwd string) (string, bool) {
	if path == "" {
		return "", false
	}
	if !filepath.IsAbs(path) && cwd != "" {
		path = filepath.Join(cwd, path)
	}
	data, err := e.readFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("cannot read edit target")
		}
		return "", false
	}
	return string(data), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
