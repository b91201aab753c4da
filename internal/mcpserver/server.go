// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the planner to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/timeblocker/internal/apperr"
	"github.com/starford/timeblocker/internal/blocks"
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/planner"
)

// TodayURI is the resource holding today's schedule as Markdown.
const TodayURI = "timeblocker://today"

// Server wraps the MCP server with planner tools.
type Server struct {
	mcp *server.MCPServer
	svc *planner.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *planner.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Time Blocker",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List one page of open Craft tasks (active, upcoming and inbox), "+
			"due-dated tasks first. Call refresh_tasks to reload from Craft."),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("refresh_tasks",
		mcp.WithDescription("Reload tasks from Craft and return the result."),
	), s.refreshTasks)

	s.mcp.AddTool(mcp.NewTool("today_schedule",
		mcp.WithDescription("Show today's time blocks ordered by start time."),
	), s.todaySchedule)

	s.mcp.AddTool(mcp.NewTool("schedule_task",
		mcp.WithDescription("Add a 09:00-10:00 block for a task today. Without task_text the "+
			"task must be one of the loaded tasks."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Craft task id")),
		mcp.WithString("task_text", mcp.Description("Block label for a task that is not loaded")),
	), s.scheduleTask)

	s.mcp.AddTool(mcp.NewTool("update_block",
		mcp.WithDescription("Change a block's start time, end time or completion."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block id")),
		mcp.WithString("start_time", mcp.Description("New start, HH:MM")),
		mcp.WithString("end_time", mcp.Description("New end, HH:MM")),
		mcp.WithBoolean("is_done", mcp.Description("Completion flag")),
	), s.updateBlock)

	s.mcp.AddTool(mcp.NewTool("toggle_block",
		mcp.WithDescription("Flip a block between done and not done."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block id")),
	), s.toggleBlock)

	s.mcp.AddTool(mcp.NewTool("remove_block",
		mcp.WithDescription("Remove a block. Unknown ids are ignored."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block id")),
	), s.removeBlock)

	s.mcp.AddResource(
		mcp.NewResource(TodayURI, "Today's Schedule",
			mcp.WithResourceDescription("Today's time blocks as a Markdown checklist."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTodayResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotConfigured) {
		return mcp.NewToolResultError("Craft is not configured: set the API base URL and key in settings first")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listTasks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Tasks(req.GetInt("page", 1)))
}

func (s *Server) refreshTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Refresh(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if st.Error != "" {
		return mcp.NewToolResultError(st.Error), nil
	}
	return jsonResult(st)
}

func (s *Server) todaySchedule(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(planner.RenderSchedule(s.svc.TodayBlocks())), nil
}

func (s *Server) scheduleTask(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b models.TimeBlock
	if text := req.GetString("task_text", ""); text != "" {
		b, err = s.svc.AddBlock(taskID, text)
	} else {
		b, err = s.svc.ScheduleTask(taskID)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(b)
}

func (s *Server) updateBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	changes := map[blocks.Field]string{}
	if v := req.GetString("start_time", ""); v != "" {
		changes[blocks.FieldStartTime] = v
	}
	if v := req.GetString("end_time", ""); v != "" {
		changes[blocks.FieldEndTime] = v
	}
	if done, err := req.RequireBool("is_done"); err == nil {
		changes[blocks.FieldIsDone] = strconv.FormatBool(done)
	}
	if len(changes) == 0 {
		return mcp.NewToolResultError("nothing to update: pass start_time, end_time or is_done"), nil
	}
	for f, v := range changes {
		if err := blocks.ValidateField(f, v); err != nil {
			return errorResult(err), nil
		}
	}

	var b models.TimeBlock
	for _, f := range []blocks.Field{blocks.FieldStartTime, blocks.FieldEndTime, blocks.FieldIsDone} {
		v, ok := changes[f]
		if !ok {
			continue
		}
		if b, err = s.svc.UpdateBlock(models.BlockID(id), f, v); err != nil {
			return errorResult(err), nil
		}
	}
	return jsonResult(b)
}

func (s *Server) toggleBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := s.svc.ToggleBlock(models.BlockID(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(b)
}

func (s *Server) removeBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.RemoveBlock(models.BlockID(id)); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", id)), nil
}

func (s *Server) readTodayResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TodayURI,
			MIMEType: "text/markdown",
			Text:     planner.RenderSchedule(s.svc.TodayBlocks()),
		},
	}, nil
}
