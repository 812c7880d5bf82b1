// Package control is the request-handling layer of the panel. It validates
// caller input, expands the configured script templates into argv (never a
// shell string), runs them through the bounded runner and records the
// outcome. It is consumed by both the HTTP surface and the MCP server.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deixis/robopanel/internal/config"
	"github.com/deixis/robopanel/internal/report"
	"github.com/deixis/robopanel/internal/runner"
)

// CommandRunner executes bounded commands.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) *runner.Outcome
}

// Controller holds shared dependencies for all panel operations.
type Controller struct {
	Config *config.Config
	Runner CommandRunner
	Store  report.Store // optional
	Logger *slog.Logger
}

// Reply is the result of an operation that ran a script.
type Reply struct {
	RunID   string
	Outcome *runner.Outcome
	Body    []byte // what the caller should show
}

// OK reports whether the script succeeded.
func (r *Reply) OK() bool { return r.Outcome.OK() }

// ValidationError reports caller input rejected before anything ran.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Devices lists the devices recently seen for username.
func (c *Controller) Devices(ctx context.Context, username string) (*Reply, error) {
	if username == "" {
		username = c.Config.User()
	}
	return c.run(ctx, "devices", c.Config.Scripts.DevicesArgv(), params{username: username})
}

// Feed starts or stops a camera or microphone feed on device id.
func (c *Controller) Feed(ctx context.Context, id string, fc FeedCommand) (*Reply, error) {
	if !fc.Valid() {
		return nil, invalid(fmt.Sprintf("Unknown feed command %q.", string(fc)))
	}
	if strings.TrimSpace(id) == "" {
		return nil, invalid(fmt.Sprintf("Please select a %s device first.", fc.DeviceKind()))
	}
	return c.run(ctx, "feed", c.Config.Scripts.FeedArgv(), params{id: id, command: string(fc)})
}

// Command sends the named command with its data payload to device id.
func (c *Controller) Command(ctx context.Context, id, cmd, data string) (*Reply, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("No suitable target device found.")
	}
	if strings.TrimSpace(cmd) == "" {
		return nil, invalid("No command given.")
	}
	return c.run(ctx, "command", c.Config.Scripts.CommandArgv(), params{id: id, command: cmd, data: data})
}

// Signup registers a new broker account.
func (c *Controller) Signup(ctx context.Context, username, password string) (*Reply, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if err := ValidateSignup(username, password); err != nil {
		return nil, err
	}
	return c.run(ctx, "signup", c.Config.Scripts.SignupArgv(), params{username: username, password: password})
}

// ValidateSignup checks a username and password against the account rules.
func ValidateSignup(username, password string) error {
	if !isAlnum(username) {
		return invalid("Please use only alphanumeric characters in the username.")
	}
	if len(username) < 4 {
		return invalid("Please use at least 4 characters in the username.")
	}
	if len(password) < 8 {
		return invalid("Please use at least 8 characters in the password.")
	}
	return nil
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

func (c *Controller) run(ctx context.Context, op string, tmpl []string, p params) (*Reply, error) {
	argv := p.expand(tmpl)
	req := runner.Command(argv...).WithTimeout(c.Config.Timeout()).WithDir(c.Config.Scripts.Dir)

	out := c.Runner.Run(ctx, req)
	redacted := p.redact(tmpl)

	logger := c.logger().With("op", op, "run_id", out.RunID, "duration", out.Duration)
	if out.OK() {
		logger.Info("script finished")
	} else {
		logger.Warn("script failed", "reason", out.Failure.Reason, "exit_code", out.Failure.ExitCode)
	}

	if c.Store != nil {
		rec := report.NewRecord(op, redacted, out)
		rec.Device = p.id
		if err := c.Store.Save(rec); err != nil {
			logger.Error("saving run record", "error", err)
		}
	}

	body := out.Output
	if c.Config.PreferErrors() || !out.OK() {
		body = out.Body()
	}
	return &Reply{RunID: out.RunID, Outcome: out, Body: body}, nil
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
