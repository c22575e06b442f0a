package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/daybot/internal/schedule"
	"github.com/kalambet/daybot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tasks    TaskLister
	Detector *schedule.Detector
}

// NewMCPServer creates an MCP server exposing the task list and the overlap
// scan as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"daybot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("daybot manages a personal task list with calendar sync and conflict checks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List all tasks of a user."),
			mcp.WithString("owner", mcp.Description("User key whose tasks to list"), mcp.Required()),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("check_slot",
			mcp.WithDescription("Check a proposed time slot against a user's existing tasks for overlaps."),
			mcp.WithString("owner", mcp.Description("User key whose tasks to check against"), mcp.Required()),
			mcp.WithString("startdate", mcp.Description("Start date, YYYY-MM-DD (omit for daily slots)")),
			mcp.WithString("starttime", mcp.Description("Start time, HH:MM"), mcp.Required()),
			mcp.WithString("enddate", mcp.Description("End date, YYYY-MM-DD (omit for daily slots)")),
			mcp.WithString("endtime", mcp.Description("End time, HH:MM"), mcp.Required()),
			mcp.WithBoolean("daily", mcp.Description("Whether the slot repeats every day")),
		),
		mcpCheckSlot(deps),
	)

	return s
}

// ServeMCPStdio runs the MCP server over stdio until ctx is cancelled or
// the client disconnects.
func ServeMCPStdio(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := req.RequireString("owner")
		if err != nil {
			return mcpError("owner is required"), nil
		}

		tasks, err := deps.Tasks.ListTasksByOwner(owner)
		if err != nil {
			return mcpError(fmt.Sprintf("listing tasks failed: %v", err)), nil
		}
		if tasks == nil {
			tasks = []storage.Task{}
		}

		data, err := json.Marshal(tasks)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding tasks failed: %v", err)), nil
		}
		return mcpText(string(data)), nil
	}
}

func mcpCheckSlot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := req.RequireString("owner")
		if err != nil {
			return mcpError("owner is required"), nil
		}

		slot := schedule.Slot{
			StartDate: req.GetString("startdate", ""),
			StartTime: req.GetString("starttime", ""),
			EndDate:   req.GetString("enddate", ""),
			EndTime:   req.GetString("endtime", ""),
			Daily:     req.GetBool("daily", false),
		}

		tasks, err := deps.Tasks.ListTasksByOwner(owner)
		if err != nil {
			return mcpError(fmt.Sprintf("listing tasks failed: %v", err)), nil
		}
		entries := make([]schedule.Entry, 0, len(tasks))
		for _, t := range tasks {
			entries = append(entries, schedule.Entry{ID: t.ID, Title: t.Title, Slot: t.Slot()})
		}

		report, err := deps.Detector.Detect(slot, entries)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid slot: %v", err)), nil
		}

		data, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding report failed: %v", err)), nil
		}
		return mcpText(string(data)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
