// Package mcp provides the robopanel MCP server, exposing the panel's
// device operations and run history as tools.
package mcp

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/robopanel"
	"github.com/deixis/robopanel/internal/control"
	"github.com/deixis/robopanel/internal/report"
)

//go:embed instructions.md
var Instructions string

// Runs is the run history inspected by panel_inspect.
// Implemented by report.LRUStore.
type Runs interface {
	Load(runID string) (*report.Record, error)
	Recent(n int) []*report.Record
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	ctl  *control.Controller
	runs Runs
}

// NewServer creates an MCP server with all panel tools registered.
func NewServer(ctl *control.Controller, runs Runs) *mcp.Server {
	h := &handler{ctl: ctl, runs: runs}

	s := mcp.NewServer(&mcp.Implementation{Name: "robopanel", Version: robopanel.Version}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "panel_devices",
		Description: "List the devices that announced themselves for a user in the last minute, one name:type entry per line.",
	}, h.devicesHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "panel_feed",
		Description: `Start or stop a camera or microphone feed on a device.

command is one of startcam, stopcam, startmic, stopmic. The result carries a run_id
for drill-down via panel_inspect.`,
	}, h.feedHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "panel_command",
		Description: `Send a named command with an optional data payload to a device.

The command is published to the device's <device>_<command> topic. The result carries
a run_id for drill-down via panel_inspect.`,
	}, h.commandHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "panel_inspect",
		Description: `Show a recorded run: command line, status, exit code, stdout and stderr.

Use the run_id from another panel tool. Without run_id, lists the most recent runs.`,
	}, h.inspectHandler)

	return s
}

// replyResult formats a script reply. Failed scripts are reported as tool
// errors so the model does not mistake the diagnostic for device output.
func replyResult(op string, reply *control.Reply) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	out := reply.Outcome
	fmt.Fprintf(&b, "Run: %s\n", reply.RunID)
	if out.OK() {
		fmt.Fprintf(&b, "%s: ok\n", op)
	} else {
		fmt.Fprintf(&b, "%s: %s (exit code %d)\n", op, out.Failure.Reason, out.Failure.ExitCode)
	}
	if out.Truncated {
		fmt.Fprintln(&b, "Output truncated.")
	}
	if len(reply.Body) > 0 {
		fmt.Fprintln(&b)
		b.Write(reply.Body)
	}
	if out.OK() {
		return textResult(b.String())
	}
	return errorResult(b.String())
}

// controlError converts an operation error into a tool result. Rejected
// input is a tool error carrying the validation message.
func controlError(err error) (*mcp.CallToolResult, any, error) {
	if control.IsValidation(err) {
		return errorResult(err.Error())
	}
	return nil, nil, err
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
