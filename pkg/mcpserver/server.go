// Package mcpserver exposes the memory store and the hook dispatcher as MCP
// tools over stdio.
//
// Each tool follows the same shape: a struct holding its dependencies,
// Definition() returning the mcp.Tool schema, and Handle() processing a
// call. Tool failures are reported as error results, never as Go errors.
package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// New creates the MCP server. A nil dispatcher leaves out hook_dispatch.
func New(store *memory.FileStore, d *dispatch.Dispatcher, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"forge-hooks",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	get := NewGetTool(store)
	s.AddTool(get.Definition(), get.Handle)

	put := NewPutTool(store)
	s.AddTool(put.Definition(), put.Handle)

	list := NewListTool(store)
	s.AddTool(list.Definition(), list.Handle)

	status := NewStatusTool(store)
	s.AddTool(status.Definition(), status.Handle)

	if d != nil {
		dt := NewDispatchTool(d)
		s.AddTool(dt.Definition(), dt.Handle)
	}
	return s
}

const instructions = `Forge memory is a set of markdown files keyed by skill, project and file.
Read entries with memory_get before relying on them: the state field says whether
an entry is fresh, aging, stale or archived. Write with memory_put; oversized entries
are pruned and every write is stamped. hook_dispatch runs the configured policy hooks
for an event and returns the aggregate verdict.`

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
