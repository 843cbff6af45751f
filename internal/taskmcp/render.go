package taskmcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// taskView is the wire shape of a task. Durations travel as milliseconds;
// a null ttl means the record is retained without limit.
type taskView struct {
	ID               string       `json:"id"`
	Status           tasks.Status `json:"status"`
	StatusMessage    string       `json:"statusMessage,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	LastUpdatedAt    time.Time    `json:"lastUpdatedAt"`
	TTL              *int64       `json:"ttl"`
	PollIntervalHint int64        `json:"pollIntervalHint"`
	Tool             string       `json:"tool,omitempty"`

	// Result is present exactly on completed tasks, Error exactly on failed
	// and cancelled ones. Neither appears on handle views.
	Result *any             `json:"result,omitempty"`
	Error  *tasks.TaskError `json:"error,omitempty"`
}

// listView is the wire shape of one task_list page.
type listView struct {
	Tasks      []taskView `json:"tasks"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

func viewOf(t *tasks.Task, includeOutcome bool) taskView {
	v := taskView{
		ID:               t.ID,
		Status:           t.Status,
		StatusMessage:    t.StatusMessage,
		CreatedAt:        t.CreatedAt.UTC(),
		LastUpdatedAt:    t.LastUpdatedAt.UTC(),
		PollIntervalHint: t.PollInterval.Milliseconds(),
		Tool:             t.ToolName,
	}
	if t.TTL > 0 {
		ms := t.TTL.Milliseconds()
		v.TTL = &ms
	}
	if includeOutcome {
		if t.Status == tasks.StatusCompleted {
			v.Result = &t.Result
		}
		v.Error = t.Err
	}
	return v
}

// handleJSON renders the tracking view of a task: status and timing, no
// outcome payload.
func handleJSON(t *tasks.Task) string {
	return marshalView(viewOf(t, false))
}

// snapshotJSON renders the full view including result or error.
func snapshotJSON(t *tasks.Task) string {
	return marshalView(viewOf(t, true))
}

func marshalView(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// Task payloads come off the wire as plain JSON values, so this
		// only triggers when a runner returned something unserializable.
		return fmt.Sprintf(`{"error": "unserializable task view: %v"}`, err)
	}
	return string(data)
}

// renderResult converts a synchronous runner outcome into tool content.
func renderResult(result any) *mcp.CallToolResult {
	switch v := result.(type) {
	case nil:
		return mcp.NewToolResultText("")
	case string:
		return mcp.NewToolResultText(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("result is not serializable: %v", err))
		}
		return mcp.NewToolResultText(string(data))
	}
}
