// Package gate runs ordered external verification checks before a
// high-risk action is allowed to proceed.
package gate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSpawn     = errors.New("gate: check could not be started")
	ErrTimeout   = errors.New("gate: check timed out")
	ErrExit      = errors.New("gate: check exited with non-zero status")
	ErrCancelled = errors.New("gate: check cancelled")
	ErrOutput    = errors.New("gate: check produced unexpected output")
	ErrInvalid   = errors.New("gate: invalid definition")
)

// Check is one external command run by a gate.
type Check struct {
	Name              string        `yaml:"name" json:"name"`
	Run               []string      `yaml:"run,omitempty" json:"run,omitempty"`
	Shell             string        `yaml:"shell,omitempty" json:"shell,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AllowFailure      bool          `yaml:"allow_failure,omitempty" json:"allow_failure,omitempty"`
	ExpectEmptyOutput bool          `yaml:"expect_empty_output,omitempty" json:"expect_empty_output,omitempty"`
	Message           string        `yaml:"message,omitempty" json:"message,omitempty"`
	Dir               string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env               []string      `yaml:"env,omitempty" json:"env,omitempty"`
}

// Argv returns the command line executed for the check.
func (c Check) Argv() []string {
	if c.Shell != "" {
		return []string{"sh", "-c", c.Shell}
	}
	return c.Run
}

// Label returns the check name, falling back to its command line.
func (c Check) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.Join(c.Argv(), " ")
}

// Validate reports definition errors.
func (c Check) Validate() error {
	switch {
	case len(c.Run) == 0 && c.Shell == "":
		return fmt.Errorf("%w: check %q has neither run nor shell", ErrInvalid, c.Name)
	case len(c.Run) > 0 && c.Shell != "":
		return fmt.Errorf("%w: check %q has both run and shell", ErrInvalid, c.Name)
	case c.Timeout < 0:
		return fmt.Errorf("%w: check %q has a negative timeout", ErrInvalid, c.Name)
	}
	return nil
}

// Gate is a named, ordered sequence of checks guarding a class of commands.
type Gate struct {
	Name     string        `yaml:"name" json:"name"`
	Triggers []string      `yaml:"triggers" json:"triggers"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Checks   []Check       `yaml:"checks" json:"checks"`
}

// Validate reports definition errors in the gate and its checks.
func (g Gate) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("%w: gate without a name", ErrInvalid)
	}
	if len(g.Triggers) == 0 {
		return fmt.Errorf("%w: gate %q has no triggers", ErrInvalid, g.Name)
	}
	if g.Timeout < 0 {
		return fmt.Errorf("%w: gate %q has a negative timeout", ErrInvalid, g.Name)
	}
	for i, c := range g.Checks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("gate %q check %d: %w", g.Name, i, err)
		}
	}
	return nil
}

// Overall is the aggregated outcome of a gate run.
type Overall string

const (
	Pass Overall = "pass"
	Fail Overall = "fail"
)

// Failure classifies why a check did not pass.
type Failure string

const (
	FailSpawn     Failure = "spawn"
	FailExit      Failure = "exit"
	FailTimeout   Failure = "timeout"
	FailCancelled Failure = "cancelled"
	FailOutput    Failure = "output"
)

// Err returns the sentinel error for the failure class.
func (f Failure) Err() error {
	switch f {
	case FailSpawn:
		return ErrSpawn
	case FailExit:
		return ErrExit
	case FailTimeout:
		return ErrTimeout
	case FailCancelled:
		return ErrCancelled
	case FailOutput:
		return ErrOutput
	}
	return nil
}

// Result is the outcome of a single check.
type Result struct {
	Name      string        `json:"name"`
	Argv      []string      `json:"argv"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration_ns"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Passed    bool          `json:"passed"`
	Failure   Failure       `json:"failure,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`

	timeout time.Duration
}

// Describe returns a short human readable account of a failed check.
func (r Result) Describe() string {
	switch r.Failure {
	case FailSpawn:
		return fmt.Sprintf("%s could not be started: %s", r.Name, r.Error)
	case FailExit:
		return fmt.Sprintf("%s failed with exit code %d", r.Name, r.ExitCode)
	case FailTimeout:
		if r.timeout > 0 {
			return fmt.Sprintf("%s timed out after %s", r.Name, r.timeout)
		}
		return fmt.Sprintf("%s timed out", r.Name)
	case FailCancelled:
		return fmt.Sprintf("%s was cancelled", r.Name)
	case FailOutput:
		return fmt.Sprintf("%s produced unexpected output", r.Name)
	}
	return r.Name + " passed"
}

// Run records one execution of a gate.
type Run struct {
	Gate     string   `json:"gate"`
	Commands []string `json:"commands"`
	Results  []Result `json:"results"`
	Overall  Overall  `json:"overall"`
	Warnings []string `json:"warnings,omitempty"`
}

// Failed returns the check result that failed the run.
func (r Run) Failed() (Result, bool) {
	if r.Overall != Fail || len(r.Results) == 0 {
		return Result{}, false
	}
	return r.Results[len(r.Results)-1], true
}

// Err returns nil for a passing run, otherwise an error wrapping the
// sentinel for the failing check.
func (r Run) Err() error {
	res, ok := r.Failed()
	if !ok {
		if r.Overall == Fail {
			return fmt.Errorf("gate %s: %w", r.Gate, ErrCancelled)
		}
		return nil
	}
	return fmt.Errorf("gate %s: check %s: %w", r.Gate, res.Name, res.Failure.Err())
}

// Reason formats the failing check for a deny verdict.
func (r Run) Reason() string {
	res, ok := r.Failed()
	if !ok {
		if r.Overall == Fail {
			return r.Gate + ": cancelled before any check completed"
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(r.Gate)
	b.WriteString(": ")
	b.WriteString(res.Describe())
	if res.Message != "" {
		b.WriteString(". ")
		b.WriteString(res.Message)
	}
	if res.Output != "" {
		b.WriteString("\n")
		if res.Truncated {
			b.WriteString("...")
		}
		b.WriteString(res.Output)
	}
	return b.String()
}
