// Command smoke exercises a running task server over HTTP: health, the MCP
// handshake, tool discovery, one augmented long_task and the poll loop to
// its result.
//
//	go run ./scripts/smoke
//	MCP_SERVER_URL=http://localhost:8080 go run ./scripts/smoke
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// client is a minimal streamable-HTTP MCP client. The session id handed out
// at initialize must ride on every later request; it is also the identity
// the server files tasks under.
type client struct {
	base      string
	sessionID string
	nextID    int
}

func main() {
	base := os.Getenv("MCP_SERVER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: strings.TrimRight(base, "/")}

	fmt.Println("=== TEST 1: Health ===")
	resp, err := http.Get(c.base + "/health")
	if err != nil {
		fail("health request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail("health returned %d: %s", resp.StatusCode, body)
	}
	fmt.Printf("OK %s\n", bytes.TrimSpace(body))

	fmt.Println("\n=== TEST 2: initialize ===")
	result := c.rpc("initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "smoke", "version": "0.1.0"},
	})
	var init struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	decode(result, &init)
	if c.sessionID == "" {
		fail("server issued no session id")
	}
	c.notify("notifications/initialized", nil)
	fmt.Printf("OK connected to %s %s (session %s)\n", init.ServerInfo.Name, init.ServerInfo.Version, c.sessionID)

	fmt.Println("\n=== TEST 3: tools/list ===")
	result = c.rpc("tools/list", nil)
	var listing struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	decode(result, &listing)
	if len(listing.Tools) == 0 {
		fail("server lists no tools")
	}
	names := make([]string, 0, len(listing.Tools))
	for _, tool := range listing.Tools {
		names = append(names, tool.Name)
	}
	fmt.Printf("OK %d tools: %s\n", len(names), strings.Join(names, ", "))

	fmt.Println("\n=== TEST 4: augmented long_task ===")
	result = c.rpc("tools/call", map[string]any{
		"name": "long_task",
		"arguments": map[string]any{
			"steps":   3,
			"step_ms": 100,
		},
		"_meta": map[string]any{
			"task": map[string]any{"ttl": 600000},
		},
	})
	handle := toolText(result)
	var task struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		PollIntervalHint int64  `json:"pollIntervalHint"`
	}
	decode([]byte(handle), &task)
	if task.ID == "" {
		fail("no task id in handle: %s", handle)
	}
	fmt.Printf("OK accepted as %s (%s)\n", task.ID, task.Status)

	fmt.Println("\n=== TEST 5: poll until terminal ===")
	interval := time.Duration(task.PollIntervalHint) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(30 * time.Second)
	for {
		if time.Now().After(deadline) {
			fail("task %s never reached a terminal state", task.ID)
		}
		time.Sleep(interval)
		result = c.rpc("tools/call", map[string]any{
			"name":      "task_get",
			"arguments": map[string]any{"id": task.ID},
		})
		var snapshot struct {
			Status string `json:"status"`
		}
		decode([]byte(toolText(result)), &snapshot)
		fmt.Printf("  status=%s\n", snapshot.Status)
		if snapshot.Status == "completed" || snapshot.Status == "failed" || snapshot.Status == "cancelled" {
			if snapshot.Status != "completed" {
				fail("task ended as %s", snapshot.Status)
			}
			break
		}
	}

	fmt.Println("\n=== TEST 6: task_result ===")
	result = c.rpc("tools/call", map[string]any{
		"name":      "task_result",
		"arguments": map[string]any{"id": task.ID, "timeout_ms": 5000},
	})
	fmt.Printf("OK %s\n", toolText(result))
	fmt.Println("\nAll smoke tests passed")
}

// rpc posts one JSON-RPC request to /mcp and returns the result member.
func (c *client) rpc(method string, params any) json.RawMessage {
	c.nextID++
	resp := c.post(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
		"params":  params,
	}, method)
	defer resp.Body.Close()

	if id := resp.Header.Get("Mcp-Session-Id"); id != "" {
		c.sessionID = id
	}

	raw, err := readMessage(resp)
	if err != nil {
		fail("%s response: %v", method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		fail("%s response is not JSON-RPC: %v\n%s", method, err, raw)
	}
	if envelope.Error != nil {
		fail("%s failed: [%d] %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Result
}

// notify posts a JSON-RPC notification, which gets no response body.
func (c *client) notify(method string, params any) {
	resp := c.post(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}, method)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *client) post(message map[string]any, method string) *http.Response {
	payload, err := json.Marshal(message)
	if err != nil {
		fail("marshal %s request: %v", method, err)
	}

	req, err := http.NewRequest(http.MethodPost, c.base+"/mcp", bytes.NewReader(payload))
	if err != nil {
		fail("build %s request: %v", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", c.sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail("%s request: %v", method, err)
	}
	return resp
}

// readMessage returns the JSON-RPC message body, unwrapping the SSE framing
// the streamable transport may answer with.
func readMessage(resp *http.Response) ([]byte, error) {
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return io.ReadAll(resp.Body)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return []byte(data), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no data frame in event stream")
}

// toolText extracts the first text block from a tools/call result, failing
// on tool-level errors.
func toolText(result json.RawMessage) string {
	var call struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	decode(result, &call)
	if len(call.Content) == 0 {
		fail("tool result carries no content: %s", result)
	}
	if call.IsError {
		fail("tool error: %s", call.Content[0].Text)
	}
	return call.Content[0].Text
}

func decode(raw []byte, v any) {
	if err := json.Unmarshal(raw, v); err != nil {
		fail("unexpected response shape: %v\n%s", err, raw)
	}
}

func fail(format string, args ...any) {
	fmt.Printf("FAIL: "+format+"\n", args...)
	os.Exit(1)
}
