package taskmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// RegisterManagementTools adds the task lifecycle tools to the server.
func (a *Adapter) RegisterManagementTools(s *server.MCPServer) {
	getTool := mcp.NewTool("task_get",
		mcp.WithDescription("Gets the current status of a task"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task ID")),
	)
	s.AddTool(getTool, a.getHandler)

	resultTool := mcp.NewTool("task_result",
		mcp.WithDescription("Waits for a task to finish and returns its result or error"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithNumber("timeout_ms", mcp.Description("How long to wait before giving up (default 30000)")),
	)
	s.AddTool(resultTool, a.resultHandler)

	cancelTool := mcp.NewTool("task_cancel",
		mcp.WithDescription("Requests cancellation of a running task"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task ID")),
	)
	s.AddTool(cancelTool, a.cancelHandler)

	listTool := mcp.NewTool("task_list",
		mcp.WithDescription("Lists your tasks in creation order, 50 per page"),
		mcp.WithString("cursor", mcp.Description("Opaque cursor returned by the previous page")),
	)
	s.AddTool(listTool, a.listHandler)

	resumeTool := mcp.NewTool("task_resume",
		mcp.WithDescription("Answers a task that is waiting for input"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithBoolean("accept", mcp.Description("Provide input and continue (default true); false stops the task")),
		mcp.WithObject("input", mcp.Description("Input handed to the task on accept")),
		mcp.WithString("reason", mcp.Description("Explanation recorded on decline")),
	)
	s.AddTool(resumeTool, a.resumeHandler)
}

func (a *Adapter) getHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	task, err := a.store.Get(id, a.identify(ctx))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(handleJSON(task)), nil
}

func (a *Adapter) resultHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	args, _ := request.Params.Arguments.(map[string]any)

	wait := a.resultWait
	if ms, ok := getNumber(args, "timeout_ms"); ok && ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	task, err := a.store.AwaitTerminal(waitCtx, id, a.identify(ctx))
	if err != nil {
		// The caller going away is a protocol-level abort, not a tool error.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, tasks.ErrAwaitTimeout) {
			return a.timeoutResult(ctx, id), nil
		}
		return toolError(err), nil
	}
	return mcp.NewToolResultText(snapshotJSON(task)), nil
}

// timeoutResult names the status the caller is still waiting on. The task
// can finish in the gap between the deadline and this lookup; hand back the
// terminal snapshot when it does.
func (a *Adapter) timeoutResult(ctx context.Context, id string) *mcp.CallToolResult {
	task, err := a.store.Get(id, a.identify(ctx))
	if err != nil {
		return toolError(err)
	}
	if task.Status.Terminal() {
		return mcp.NewToolResultText(snapshotJSON(task))
	}
	return mcp.NewToolResultError(fmt.Sprintf(
		"task still %s; poll task_get or retry with a longer timeout_ms", task.Status))
}

func (a *Adapter) cancelHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	task, err := a.store.Cancel(id, a.identify(ctx))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(handleJSON(task)), nil
}

func (a *Adapter) listHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		args = make(map[string]any) // no arguments means first page
	}
	cursor, _ := args["cursor"].(string)

	page, next, err := a.store.List(a.identify(ctx), cursor)
	if err != nil {
		return toolError(err), nil
	}

	view := listView{Tasks: make([]taskView, 0, len(page)), NextCursor: next}
	for _, t := range page {
		view.Tasks = append(view.Tasks, viewOf(t, false))
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (a *Adapter) resumeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	args, _ := request.Params.Arguments.(map[string]any)

	accept := true
	if v, ok := args["accept"].(bool); ok {
		accept = v
	}
	input, _ := args["input"].(map[string]any)
	reason, _ := args["reason"].(string)

	task, err := a.store.Resume(id, a.identify(ctx), tasks.ResumeDecision{
		Accept: accept,
		Input:  input,
		Reason: reason,
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(handleJSON(task)), nil
}

// requireID pulls the mandatory id argument out of a request.
func requireID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return "", mcp.NewToolResultError("invalid arguments format")
	}
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return "", mcp.NewToolResultError("id parameter is required and must be a string")
	}
	return id, nil
}

// toolError renders a store error for the wire. Unknown, evicted and
// foreign tasks all produce the same not-found text.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return mcp.NewToolResultError("task not found")
	case errors.Is(err, tasks.ErrBadCursor):
		return mcp.NewToolResultError("cursor is not valid; start over without one")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func getNumber(args map[string]any, key string) (float64, bool) {
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}
