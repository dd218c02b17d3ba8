package gate

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 4096

	// waitDelay bounds how long Wait keeps draining output after the
	// process was killed.
	waitDelay = 2 * time.Second
)

// Runner executes gates. The zero value is usable.
type Runner struct {
	// Timeout applies to checks that do not set their own.
	Timeout time.Duration
	// MaxOutput caps the captured output per check, in bytes.
	MaxOutput int
	// Dir is the working directory for checks; relative check dirs resolve against it.
	Dir string
	// Env is appended to the process environment of every check.
	Env []string
	// Observe, when set, is called after each check completes.
	Observe func(gate string, res Result)
}

// Run executes the checks of g in order and stops at the first failure that
// is not allowed to fail. An empty gate passes. When ctx is cancelled the
// running check is killed and the results gathered so far are returned.
func (r *Runner) Run(ctx context.Context, g Gate) Run {
	run := Run{Gate: g.Name, Overall: Pass, Commands: make([]string, 0, len(g.Checks))}
	for _, c := range g.Checks {
		run.Commands = append(run.Commands, strings.Join(c.Argv(), " "))
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	logger := log.With().Str("component", "gate").Str("gate", g.Name).Logger()

	for _, c := range g.Checks {
		res := r.runCheck(ctx, c)
		run.Results = append(run.Results, res)

		if r.Observe != nil {
			r.Observe(g.Name, res)
		}

		if res.Passed {
			logger.Debug().Str("check", res.Name).Dur("duration", res.Duration).Msg("check passed")
			continue
		}

		if c.AllowFailure && res.Failure != FailCancelled && ctx.Err() == nil {
			logger.Info().Str("check", res.Name).Str("failure", string(res.Failure)).Msg("check failed, continuing")
			run.Warnings = append(run.Warnings, res.Describe())
			continue
		}

		logger.Warn().Str("check", res.Name).Str("failure", string(res.Failure)).Int("exit_code", res.ExitCode).Msg("gate failed")
		run.Overall = Fail
		break
	}

	return run
}

func (r *Runner) runCheck(ctx context.Context, c Check) Result {
	argv := c.Argv()
	res := Result{Name: c.Label(), Argv: argv, Message: c.Message}

	if err := c.Validate(); err != nil {
		res.Failure = FailSpawn
		res.Error = err.Error()
		return res
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout()
	}
	res.timeout = timeout

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := newBoundedBuffer(r.maxOutput())

	cmd := exec.CommandContext(checkCtx, argv[0], argv[1:]...)
	cmd.Dir = r.dir(c.Dir)
	cmd.Env = append(append(os.Environ(), r.Env...), c.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	start := time.Now()
	err := cmd.Start()
	if err == nil {
		err = cmd.Wait()
	} else if ctx.Err() == nil && checkCtx.Err() == nil {
		res.Duration = time.Since(start)
		res.Failure = FailSpawn
		res.Error = err.Error()
		res.ExitCode = -1
		return res
	}
	res.Duration = time.Since(start)
	res.Output = out.String()
	res.Truncated = out.Truncated()
	res.ExitCode = exitCode(cmd, err)

	switch {
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Failure = FailTimeout
		} else {
			res.Failure = FailCancelled
		}
	case errors.Is(checkCtx.Err(), context.DeadlineExceeded):
		res.Failure = FailTimeout
	case err != nil:
		res.Failure = FailExit
		res.Error = err.Error()
	case c.ExpectEmptyOutput && res.Output != "":
		res.Failure = FailOutput
	default:
		res.Passed = true
	}

	return res
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) dir(checkDir string) string {
	switch {
	case checkDir == "":
		return r.Dir
	case filepath.IsAbs(checkDir) || r.Dir == "":
		return checkDir
	default:
		return filepath.Join(r.Dir, checkDir)
	}
}
