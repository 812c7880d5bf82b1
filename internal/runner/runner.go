// Package runner provides bounded command execution: a command runs with a
// wall-clock budget, its output is captured while it runs, and the process
// is always killed and reaped before Run returns.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when neither the request nor the runner configures a value.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxOutput = 1 << 20 // 1 MB per stream
	DefaultWaitDelay = time.Second
)

// Runner executes commands with a timeout and an output size cap.
// A zero Runner is usable and applies the defaults.
type Runner struct {
	Workspace string        // base for relative request directories; empty means the current directory
	Timeout   time.Duration // default budget for requests without one
	MaxOutput int           // bytes per stream
	WaitDelay time.Duration // how long to wait for pipes held open by descendants after exit
}

// Run executes req and blocks until it completes, fails, or runs out of
// budget. It never returns a nil Outcome; failures are reported through
// Outcome.Failure. Cancelling ctx ends the budget early and takes the same
// termination path as a timeout.
func (r *Runner) Run(ctx context.Context, req Request) *Outcome {
	out := &Outcome{RunID: uuid.New().String(), Started: time.Now()}
	defer func() { out.Duration = time.Since(out.Started) }()

	argv, err := req.argv()
	if err != nil {
		out.Failure = launchFailure(err)
		return out
	}
	dir, err := r.resolveDir(req.Dir)
	if err != nil {
		out.Failure = launchFailure(err)
		return out
	}

	p, err := start(argv, dir, r.maxOutput(), r.waitDelay())
	if err != nil {
		out.Failure = launchFailure(fmt.Errorf("executing %s: %w", argv[0], err))
		return out
	}
	out.PID = p.pid()

	exited, stdout := p.wait(ctx, r.budget(req))

	var exitCode int
	if exited {
		exitCode = p.exitCode()
	}

	// Unconditional: descendants of an exited child are killed too.
	p.terminate()

	// Drained after the kill so late stderr reaches the diagnostic.
	stderr := p.stderr.drain()
	out.Output = append(stdout, p.stdout.drain()...)
	out.Stderr = stderr
	out.Truncated = p.stdout.truncated() || p.stderr.truncated()

	switch {
	case !exited:
		out.Failure = &Failure{Reason: TimedOut, Diagnostic: withMarker(stderr, timeoutMarker)}
	case exitCode != 0:
		out.Failure = &Failure{
			Reason:     NonZeroExit,
			ExitCode:   exitCode,
			Diagnostic: withMarker(stderr, fmt.Sprintf(exitMarker, exitCode)),
		}
	}
	return out
}

// budget returns the timeout for req.
func (r *Runner) budget(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
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

func (r *Runner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return DefaultWaitDelay
}

// resolveDir resolves dir relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(dir string) (string, error) {
	if dir == "" {
		return r.Workspace, nil
	}
	if r.Workspace == "" {
		return filepath.Clean(dir), nil
	}

	resolved := filepath.Clean(dir)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(r.Workspace, resolved)
	}

	rel, err := filepath.Rel(r.Workspace, resolved)
	if err != nil {
		return "", fmt.Errorf("resolving dir: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir %q is outside workspace %q", dir, r.Workspace)
	}
	return resolved, nil
}

func launchFailure(err error) *Failure {
	return &Failure{Reason: LaunchFailed, ExitCode: -1, Diagnostic: []byte(err.Error())}
}

// withMarker appends a marker line to the captured stderr.
func withMarker(stderr []byte, marker string) []byte {
	diag := make([]byte, 0, len(stderr)+len(marker)+1)
	diag = append(diag, stderr...)
	diag = append(diag, '\n')
	return append(diag, marker...)
}
