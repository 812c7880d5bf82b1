package runner

import (
	"bytes"
	"fmt"
	"time"
)

// Request describes one command to execute. Exactly one of Argv or Script
// is set. Requests are values; the With* helpers return modified copies.
type Request struct {
	Argv    []string      // binary (resolved via PATH) followed by its arguments
	Script  string        // shell script run via /bin/sh -c
	Timeout time.Duration // zero means the runner default
	Dir     string        // working directory, relative to the runner workspace
}

// Command returns a request that executes argv directly, without a shell.
func Command(argv ...string) Request {
	return Request{Argv: append([]string(nil), argv...)}
}

// Shell returns a request that executes script with /bin/sh -c.
func Shell(script string) Request {
	return Request{Script: script}
}

// WithTimeout returns a copy of r with the given timeout.
func (r Request) WithTimeout(d time.Duration) Request {
	r.Argv = append([]string(nil), r.Argv...)
	r.Timeout = d
	return r
}

// WithDir returns a copy of r that runs in dir.
func (r Request) WithDir(dir string) Request {
	r.Argv = append([]string(nil), r.Argv...)
	r.Dir = dir
	return r
}

// argv returns the argument vector to execute.
func (r Request) argv() ([]string, error) {
	switch {
	case r.Script != "" && len(r.Argv) > 0:
		return nil, fmt.Errorf("request sets both argv and script")
	case r.Script != "":
		return []string{"/bin/sh", "-c", r.Script}, nil
	case len(r.Argv) == 0 || r.Argv[0] == "":
		return nil, fmt.Errorf("empty command")
	}
	return r.Argv, nil
}

// String renders the request for logs.
func (r Request) String() string {
	if r.Script != "" {
		return r.Script
	}
	return fmt.Sprint(r.Argv)
}

// Reason classifies a failed invocation.
type Reason int

const (
	// LaunchFailed means the process could not be started at all.
	LaunchFailed Reason = iota + 1
	// TimedOut means the budget ran out while the process was still running.
	TimedOut
	// NonZeroExit means the process completed with a non-zero exit code.
	NonZeroExit
)

func (r Reason) String() string {
	switch r {
	case LaunchFailed:
		return "launch_failed"
	case TimedOut:
		return "timed_out"
	case NonZeroExit:
		return "non_zero_exit"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Markers appended to the diagnostic of a failed invocation.
const (
	timeoutMarker = "Request timed out!"
	exitMarker    = "Request failed! (code %d)"
)

// Failure describes why an invocation did not succeed.
type Failure struct {
	Reason     Reason
	ExitCode   int    // set for NonZeroExit
	Diagnostic []byte // captured stderr plus a marker line
}

func (f *Failure) Error() string {
	switch f.Reason {
	case NonZeroExit:
		return fmt.Sprintf("command exited with code %d", f.ExitCode)
	case TimedOut:
		return "command timed out"
	case LaunchFailed:
		return "command could not be launched: " + string(bytes.TrimSpace(f.Diagnostic))
	}
	return f.Reason.String()
}

// Outcome is the result of one invocation. Failure is nil on success.
type Outcome struct {
	RunID     string
	PID       int           // zero when the process never started
	Output    []byte        // captured stdout (may be truncated; partial on failure)
	Stderr    []byte        // captured stderr (may be truncated)
	Failure   *Failure      // nil on success
	Started   time.Time
	Duration  time.Duration
	Truncated bool // true if either stream exceeded the size cap
}

// OK reports whether the invocation succeeded.
func (o *Outcome) OK() bool { return o.Failure == nil }

// Err returns the failure as an error, or nil on success.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Body returns the authoritative result text. Diagnostic output wins over
// standard output when both exist, including stderr written by a command
// that still exited zero.
func (o *Outcome) Body() []byte {
	if o.Failure != nil && len(o.Failure.Diagnostic) > 0 {
		return o.Failure.Diagnostic
	}
	if len(o.Stderr) > 0 {
		return o.Stderr
	}
	return o.Output
}
