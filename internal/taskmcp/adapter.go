package taskmcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// Adapter routes tool calls into the task store. One adapter serves one
// store; tools registered through it share the same identity resolution
// and result-wait policy.
type Adapter struct {
	store      *tasks.Store
	identify   IdentityFunc
	notifier   *Notifier
	resultWait time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithIdentity replaces the session-based identity resolution.
func WithIdentity(fn IdentityFunc) AdapterOption {
	return func(a *Adapter) { a.identify = fn }
}

// WithResultWait sets how long task_result blocks when the caller sends no
// timeout_ms.
func WithResultWait(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.resultWait = d }
}

// WithNotifier lets the adapter register progress tokens from augmented
// calls so progress reports can be routed back to the requester.
func WithNotifier(n *Notifier) AdapterOption {
	return func(a *Adapter) { a.notifier = n }
}

// New builds an adapter over the store.
func New(store *tasks.Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		store:      store,
		identify:   SessionIdentity,
		resultWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterTaskTool registers a tool that accepts task augmentation. Plain
// calls run synchronously; augmented calls return a handle immediately.
func (a *Adapter) RegisterTaskTool(s *server.MCPServer, tool mcp.Tool, run tasks.Runner) {
	s.AddTool(tool, a.Wrap(run))
}

// Wrap turns a runner into a tool handler with the augmentation split.
func (a *Adapter) Wrap(run tasks.Runner) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]any)
		if !ok {
			args = make(map[string]any)
		}

		fields, augmented, err := taskAugmentation(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if !augmented {
			result, err := tasks.RunDetached(ctx, request.Params.Name, args, run)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return renderResult(result), nil
		}

		ttlReq, err := requestedTTL(fields)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		owner := a.identify(ctx)
		task, err := a.store.Create(owner, request.Params.Name, args, ttlReq)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if a.notifier != nil && request.Params.Meta != nil && request.Params.Meta.ProgressToken != nil {
			a.notifier.TrackProgress(task.ID, request.Params.Meta.ProgressToken)
		}

		log.Printf("TASKS: accepted %s as %s for %s", request.Params.Name, task.ID, owner)
		go a.store.Execute(task.ID, run)

		return mcp.NewToolResultText(handleJSON(task)), nil
	}
}

// taskAugmentation extracts the _meta.task object. A present but non-object
// value is rejected rather than silently run synchronously.
func taskAugmentation(request mcp.CallToolRequest) (map[string]any, bool, error) {
	meta := request.Params.Meta
	if meta == nil {
		return nil, false, nil
	}
	raw, ok := meta.AdditionalFields["task"]
	if !ok || raw == nil {
		return nil, false, nil
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, false, errors.New("_meta.task must be an object")
	}
	return fields, true, nil
}

// requestedTTL reads the ttl field in milliseconds. Absent and null both
// mean no request, which the store clamps to the policy maximum.
func requestedTTL(fields map[string]any) (time.Duration, error) {
	raw, ok := fields["ttl"]
	if !ok || raw == nil {
		return 0, nil
	}
	ms, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("task ttl must be a number of milliseconds")
	}
	if ms < 0 {
		return 0, fmt.Errorf("task ttl must not be negative")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
