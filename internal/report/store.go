// Package report persists the history of runner invocations so that a
// failed device command can be inspected after the HTTP response is gone.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/deixis/robopanel/internal/runner"
)

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}

// Record is the stored form of one invocation.
type Record struct {
	ID         string        `json:"id"`
	Operation  string        `json:"operation"` // devices, feed, command, signup, run
	Argv       []string      `json:"argv"`      // secrets redacted
	Device     string        `json:"device,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"` // ok or the failure reason
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// StatusOK is the status of a successful run.
const StatusOK = "ok"

// NewRecord builds a record from a runner outcome.
func NewRecord(op string, argv []string, out *runner.Outcome) *Record {
	rec := &Record{
		ID:        out.RunID,
		Operation: op,
		Argv:      argv,
		StartedAt: out.Started,
		Duration:  out.Duration,
		Status:    StatusOK,
		Output:    string(out.Output),
		Truncated: out.Truncated,
	}
	if f := out.Failure; f != nil {
		rec.Status = f.Reason.String()
		rec.ExitCode = f.ExitCode
		rec.Diagnostic = string(f.Diagnostic)
	} else if len(out.Stderr) > 0 {
		rec.Diagnostic = string(out.Stderr)
	}
	return rec
}

// OK reports whether the run succeeded.
func (r *Record) OK() bool { return r.Status == StatusOK }

// Summary renders a short human-readable description of the record.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", r.ID, r.Operation)
	fmt.Fprintf(&b, "Command: %s\n", strings.Join(r.Argv, " "))
	if r.Device != "" {
		fmt.Fprintf(&b, "Device: %s\n", r.Device)
	}
	fmt.Fprintf(&b, "Started: %s (took %s)\n", r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	if r.OK() {
		fmt.Fprintf(&b, "Status: ok\n")
	} else {
		fmt.Fprintf(&b, "Status: %s (exit code %d)\n", r.Status, r.ExitCode)
	}
	if r.Truncated {
		fmt.Fprintf(&b, "Output truncated.\n")
	}
	if r.Output != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", ensureNewline(r.Output))
	}
	if r.Diagnostic != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", ensureNewline(r.Diagnostic))
	}
	return b.String()
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
