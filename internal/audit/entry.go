package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = "sha256:" + strings.Repeat("0", 64)

// Entry is one recorded decision.
type Entry struct {
	Seq            int64       `json:"seq"`
	ID             string      `json:"id"`
	Time           time.Time   `json:"ts"`
	Kind           string      `json:"kind"`
	Tool           string      `json:"tool,omitempty"`
	Subject        string      `json:"subject"`
	Verdict        string      `json:"verdict"`
	Reason         string      `json:"reason,omitempty"`
	MatchedRule    string      `json:"matched_rule,omitempty"`
	Classification string      `json:"classification,omitempty"`
	PolicyHash     string      `json:"policy_hash,omitempty"`
	DurationMS     int64       `json:"duration_ms"`
	Gate           *GateRecord `json:"gate,omitempty"`
	PrevHash       string      `json:"prev_hash"`
	Hash           string      `json:"hash"`
}

// GateRecord is the audited form of a gate run.
type GateRecord struct {
	Name     string        `json:"name"`
	Overall  string        `json:"overall"`
	Checks   []CheckRecord `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
}

// CheckRecord is the audited form of a single check result.
type CheckRecord struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Failure    string `json:"failure,omitempty"`
	Output     string `json:"output,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// FromRun converts a gate run for the audit trail.
func FromRun(run gate.Run) *GateRecord {
	rec := &GateRecord{
		Name:     run.Gate,
		Overall:  string(run.Overall),
		Checks:   make([]CheckRecord, 0, len(run.Results)),
		Warnings: run.Warnings,
	}
	for _, r := range run.Results {
		rec.Checks = append(rec.Checks, CheckRecord{
			Name:       r.Name,
			Passed:     r.Passed,
			ExitCode:   r.ExitCode,
			DurationMS: r.Duration.Milliseconds(),
			Failure:    string(r.Failure),
			Output:     r.Output,
			Truncated:  r.Truncated,
		})
	}
	return rec
}

// ComputeHash returns the chain hash of e, ignoring its Hash field.
func (e Entry) ComputeHash() (string, error) {
	e.Hash = ""
	data, err := canonicalize(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
