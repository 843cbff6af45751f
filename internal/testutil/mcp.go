package testutil

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewCallToolRequest creates a CallToolRequest for testing tool handlers
func NewCallToolRequest(name string, params map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: params,
		},
	}
}

// NewTaskCallToolRequest creates a task-augmented CallToolRequest, with the
// augmentation riding in _meta.task the way wire clients send it. Pass nil
// fields for an empty augmentation object.
func NewTaskCallToolRequest(name string, params map[string]any, taskFields map[string]any) mcp.CallToolRequest {
	if taskFields == nil {
		taskFields = map[string]any{}
	}
	req := NewCallToolRequest(name, params)
	req.Params.Meta = &mcp.Meta{
		AdditionalFields: map[string]any{"task": taskFields},
	}
	return req
}

// ResultText extracts the first text block from a tool result, failing the
// test when the result carries anything else.
func ResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("tool result carries no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool result content is %T, not text", result.Content[0])
	}
	return text.Text
}

// DecodeResultJSON unmarshals the first text block of a tool result into v.
func DecodeResultJSON(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	raw := ResultText(t, result)
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		t.Fatalf("tool result is not valid JSON: %v\n  Raw: %s", err, raw)
	}
}
