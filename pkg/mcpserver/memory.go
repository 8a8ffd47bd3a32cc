package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/entrhq/forge-hooks/pkg/memory"
)

func entryArgs(req mcp.CallToolRequest) (skill, project, file string, err error) {
	skill = req.GetString("skill", "")
	project = req.GetString("project", "")
	file = req.GetString("file", "")
	switch {
	case skill == "":
		err = errors.New("'skill' is required")
	case project == "":
		err = errors.New("'project' is required")
	case file == "":
		err = errors.New("'file' is required")
	}
	return
}

func withEntryParams(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append([]mcp.ToolOption{
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill id, e.g. analyze")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Entry file, e.g. project_overview or project_overview.md")),
	}, opts...)
}

// GetTool handles memory_get.
type GetTool struct {
	store *memory.FileStore
}

// NewGetTool creates a GetTool.
func NewGetTool(store *memory.FileStore) *GetTool {
	return &GetTool{store: store}
}

// Definition returns the MCP tool definition for memory_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_get", withEntryParams(
		mcp.WithDescription("Read one memory entry with its freshness state, size and prune history."),
	)...)
}

// Handle processes the memory_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skill, project, file, err := entryArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := t.store.Get(ctx, skill, project, file)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read entry: %v", err)), nil
	}
	if e == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no memory entry %s/%s/%s", skill, project, file)), nil
	}
	return jsonResult(e), nil
}

// PutTool handles memory_put.
type PutTool struct {
	store *memory.FileStore
}

// NewPutTool creates a PutTool.
func NewPutTool(store *memory.FileStore) *PutTool {
	return &PutTool{store: store}
}

// Definition returns the MCP tool definition for memory_put.
func (t *PutTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_put", withEntryParams(
		mcp.WithDescription("Write a memory entry. Content is quality checked, stamped with Last Updated and pruned to the entry type's line ceiling."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
		mcp.WithString("mode", mcp.Enum("replace", "append"), mcp.DefaultString("replace"),
			mcp.Description("replace overwrites the body; append adds to it")),
	)...)
}

// Handle processes the memory_put tool call.
func (t *PutTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skill, project, file, err := entryArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	opts := memory.PutOptions{Mode: memory.Replace}
	switch mode := req.GetString("mode", "replace"); mode {
	case "replace":
	case "append":
		opts.Mode = memory.Append
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q (want replace or append)", mode)), nil
	}

	e, err := t.store.Put(ctx, skill, project, file, content, opts)
	var ve *memory.ValidationError
	var le *memory.LimitExceededError
	switch {
	case errors.As(err, &ve):
		return mcp.NewToolResultError("memory entry rejected:\n- " + strings.Join(ve.Reasons, "\n- ")), nil
	case errors.As(err, &le):
		return mcp.NewToolResultError(le.Error()), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to write entry: %v", err)), nil
	}

	msg := fmt.Sprintf("Saved %s/%s/%s (%d lines)", skill, project, e.FileName, e.SizeLines)
	if n := len(e.PruneMarkers); n > 0 {
		last := e.PruneMarkers[n-1]
		msg += fmt.Sprintf("\nPruned %d lines on %s", last.LinesRemoved, last.Timestamp.Format(memory.DateLayout))
	}
	return mcp.NewToolResultText(msg), nil
}

// ListTool handles memory_list.
type ListTool struct {
	store *memory.FileStore
}

// NewListTool creates a ListTool.
func NewListTool(store *memory.FileStore) *ListTool {
	return &ListTool{store: store}
}

// Definition returns the MCP tool definition for memory_list.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_list",
		mcp.WithDescription("List the entries of one project with their type, size and freshness state."),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill id")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
	)
}

type listItem struct {
	File        string           `json:"file"`
	Type        memory.EntryType `json:"type"`
	Lines       int              `json:"lines"`
	State       memory.State     `json:"state"`
	LastUpdated string           `json:"lastUpdated"`
	Ghost       bool             `json:"ghost,omitempty"`
}

// Handle processes the memory_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skill := req.GetString("skill", "")
	project := req.GetString("project", "")
	if skill == "" || project == "" {
		return mcp.NewToolResultError("'skill' and 'project' are required"), nil
	}
	items := []listItem{}
	for e, err := range t.store.List(ctx, skill, project) {
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list entries: %v", err)), nil
		}
		items = append(items, listItem{
			File:        e.FileName,
			Type:        e.Type,
			Lines:       e.SizeLines,
			State:       e.State,
			LastUpdated: e.LastUpdatedAt.Format(memory.DateLayout),
			Ghost:       e.Ghost,
		})
	}
	return jsonResult(items), nil
}

// StatusTool handles memory_status.
type StatusTool struct {
	store *memory.FileStore
	now   func() time.Time
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(store *memory.FileStore) *StatusTool {
	return &StatusTool{store: store, now: time.Now}
}

// Definition returns the MCP tool definition for memory_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_status",
		mcp.WithDescription("Summarise the whole store: entries per freshness state, ghost entries without timestamps, and entries over their line ceiling."),
	)
}

// Handle processes the memory_status tool call.
func (t *StatusTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.store.Status(ctx, t.now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute status: %v", err)), nil
	}
	return jsonResult(report), nil
}
