// Package engine combines policy rules, the diff classifier and verification
// gates into a single verdict for each proposed action.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adrianpk/gatekeeper/internal/audit"
	"github.com/adrianpk/gatekeeper/internal/gate"
	"github.com/adrianpk/gatekeeper/internal/metrics"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

// GateRunner runs verification gates.
type GateRunner interface {
	Run(ctx context.Context, g gate.Gate) gate.Run
}

// Engine decides proposed actions against the current policy snapshot.
type Engine struct {
	store      *policy.Store
	audit      *audit.Log
	runner     GateRunner
	projectDir string
	threshold  *int
	exists     func(path string) bool
	logger     zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAudit records every decision in lg.
func WithAudit(lg *audit.Log) Option {
	return func(e *Engine) { e.audit = lg }
}

// WithGateRunner sets the runner used for gated commands.
func WithGateRunner(r GateRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithProjectDir sets the workspace root used for path rules.
func WithProjectDir(dir string) Option {
	return func(e *Engine) { e.projectDir = dir }
}

// WithThreshold overrides the policy threshold.
func WithThreshold(n int) Option {
	return func(e *Engine) { e.threshold = &n }
}

// New creates an engine reading policy snapshots from store.
func New(store *policy.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		exists: fileExists,
		logger: log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = &gate.Runner{Observe: metrics.ObserveGateCheck}
	}
	if e.audit == nil {
		e.audit = audit.New(audit.Discard{})
	}
	return e
}

// Decide returns the verdict for req and records it in the audit log.
// It never panics; any internal failure yields Ask.
func (e *Engine) Decide(ctx context.Context, req Request) (d Decision) {
	start := time.Now()
	id := uuid.NewString()
	snap := e.store.Snapshot()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("kind", string(req.Kind)).
				Bytes("stack", debug.Stack()).
				Msg("decision panicked")
			d = Decision{Verdict: Ask, subject: req.Subject}
		}
		d.ID = id
		e.record(ctx, req, d, snap, time.Since(start))
	}()

	if snap == nil {
		e.logger.Warn().Msg("no policy loaded")
		return Decision{Verdict: Ask, subject: req.Subject}
	}
	p := snap.Policy

	switch req.Kind {
	case Bash:
		return e.decideBash(ctx, p, req)
	case Fetch:
		return decideFetch(p, req.Subject)
	case Edit, Write:
		return e.decideEdit(p, req)
	default:
		e.logger.Debug().Str("kind", string(req.Kind)).Str("tool", req.Tool).Msg("unknown action kind")
		return Decision{Verdict: Ask, subject: req.Subject}
	}
}

// Snapshot returns the policy snapshot decisions currently use.
func (e *Engine) Snapshot() *policy.Snapshot {
	return e.store.Snapshot()
}

func (e *Engine) record(ctx context.Context, req Request, d Decision, snap *policy.Snapshot, elapsed time.Duration) {
	metrics.ObserveDecision(string(req.Kind), string(d.Verdict), elapsed)

	entry := audit.Entry{
		ID:          d.ID,
		Kind:        string(req.Kind),
		Tool:        req.Tool,
		Subject:     d.subject,
		Verdict:     string(d.Verdict),
		Reason:      d.Reason,
		MatchedRule: d.MatchedRule,
		DurationMS:  elapsed.Milliseconds(),
	}
	if snap != nil {
		entry.PolicyHash = snap.Hash
	}
	if d.Classification != nil {
		entry.Classification = d.Classification.String()
	}
	if d.Gate != nil {
		entry.Gate = audit.FromRun(*d.Gate)
	}

	if _, err := e.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		metrics.AuditErrors.Inc()
		e.logger.Error().Err(err).Str("decision", d.ID).Msg("audit append failed")
	}
}

func (e *Engine) thresholdFor(p *policy.Policy) int {
	if e.threshold != nil {
		return *e.threshold
	}
	return p.Threshold
}

// root returns the workspace root for req.
func (e *Engine) root(req Request) string {
	if e.projectDir != "" {
		return e.projectDir
	}
	return req.Dir
}

func (e *Engine) base(req Request) string {
	if req.Dir != "" {
		return req.Dir
	}
	return e.projectDir
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func ruleRef(list string, m policy.MatchResult) string {
	return fmt.Sprintf("%s[%d] %s", list, m.Index, m.Pattern)
}

func joinRoot(root, name string) string {
	if filepath.IsAbs(name) || root == "" {
		return name
	}
	return filepath.Join(root, name)
}
