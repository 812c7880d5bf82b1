package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/robopanel/internal/report"
)

// recentLimit is how many runs panel_inspect lists without a run_id.
const recentLimit = 10

type inspectParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID from a panel_feed, panel_command or panel_devices result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if h.runs == nil {
		return errorResult("Run history is not enabled.")
	}
	if params.RunID == "" {
		return textResult(formatRecent(h.runs.Recent(recentLimit)))
	}

	rec, err := h.runs.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(rec.Summary())
}

func formatRecent(recs []*report.Record) string {
	if len(recs) == 0 {
		return "No runs recorded yet.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent runs (%d):\n", len(recs))
	for _, r := range recs {
		device := r.Device
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(&b, "  %s  %-8s %-14s %-20s %s\n",
			r.ID, r.Operation, r.Status, device, r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, `Inspect with panel_inspect(run_id="<id>").`)
	return b.String()
}
