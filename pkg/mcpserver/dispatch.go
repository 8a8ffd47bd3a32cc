package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/hook"
)

// DispatchTool handles hook_dispatch.
type DispatchTool struct {
	dispatcher *dispatch.Dispatcher
}

// NewDispatchTool creates a DispatchTool.
func NewDispatchTool(d *dispatch.Dispatcher) *DispatchTool {
	return &DispatchTool{dispatcher: d}
}

// Definition returns the MCP tool definition for hook_dispatch.
func (t *DispatchTool) Definition() mcp.Tool {
	events := make([]string, len(hook.Events))
	for i, e := range hook.Events {
		events[i] = string(e)
	}
	return mcp.NewTool("hook_dispatch",
		mcp.WithDescription("Run the policy hooks registered for an event against a tool call and return the aggregate verdict with a per-hook trace."),
		mcp.WithString("event", mcp.Required(), mcp.Enum(events...), mcp.Description("Hook event")),
		mcp.WithString("tool_name", mcp.Description("Tool being called, e.g. Bash or Write")),
		mcp.WithString("tool_input", mcp.Description(`Tool input as a JSON object, e.g. {"command": "git push origin main"}`)),
		mcp.WithString("session_id", mcp.Description("Session id")),
		mcp.WithString("cwd", mcp.Description("Project directory the tool call runs in")),
	)
}

// Handle processes the hook_dispatch tool call.
func (t *DispatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	event := hook.Event(req.GetString("event", ""))
	if !event.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown event %q", event)), nil
	}

	input := map[string]any{}
	if raw := req.GetString("tool_input", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'tool_input' is not a JSON object: %v", err)), nil
		}
	}

	r := &hook.Request{
		ToolName:  req.GetString("tool_name", ""),
		ToolInput: input,
		SessionContext: hook.SessionContext{
			SessionID: req.GetString("session_id", ""),
			Cwd:       req.GetString("cwd", ""),
			Event:     event,
		},
	}
	res, err := t.dispatcher.Dispatch(ctx, event, r)
	if err != nil && res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("dispatch failed: %v", err)), nil
	}
	return jsonResult(res), nil
}
