package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/robopanel/internal/control"
)

type devicesParams struct {
	Username string `json:"username,omitempty" jsonschema:"account whose devices are listed; defaults to the configured user"`
}

func (h *handler) devicesHandler(ctx context.Context, req *mcp.CallToolRequest, params devicesParams) (*mcp.CallToolResult, any, error) {
	reply, err := h.ctl.Devices(ctx, params.Username)
	if err != nil {
		return controlError(err)
	}
	return replyResult("devices", reply)
}

type feedParams struct {
	Device  string `json:"device" jsonschema:"device identifier, e.g. alice-0A1B2C3D4E5F"`
	Command string `json:"command" jsonschema:"one of startcam, stopcam, startmic, stopmic"`
}

func (h *handler) feedHandler(ctx context.Context, req *mcp.CallToolRequest, params feedParams) (*mcp.CallToolResult, any, error) {
	reply, err := h.ctl.Feed(ctx, params.Device, control.FeedCommand(params.Command))
	if err != nil {
		return controlError(err)
	}
	return replyResult("feed", reply)
}

type commandParams struct {
	Device  string `json:"device" jsonschema:"device identifier"`
	Command string `json:"command" jsonschema:"command name, published on the <device>_<command> topic"`
	Data    string `json:"data,omitempty" jsonschema:"payload sent with the command"`
}

func (h *handler) commandHandler(ctx context.Context, req *mcp.CallToolRequest, params commandParams) (*mcp.CallToolResult, any, error) {
	reply, err := h.ctl.Command(ctx, params.Device, params.Command, params.Data)
	if err != nil {
		return controlError(err)
	}
	return replyResult("command", reply)
}
