package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

func newTestInfra(t *testing.T) (*MCPServerResult, *tasks.Store) {
	t.Helper()
	store := tasks.NewStore(tasks.Config{MaxTTL: time.Hour, SweepInterval: -1})
	t.Cleanup(store.Close)

	mcpServer := server.NewMCPServer("test-tasks", "0.0.1")
	result := SetupInfrastructure(mcpServer, InfrastructureConfig{
		Addr:       ":0",
		ServerName: "test-tasks",
		Version:    "0.0.1",
		Store:      store,
	})
	return result, store
}

func TestHealthEndpoint(t *testing.T) {
	t.Logf("Importance: operators and load balancers probe /health; it must always answer with live numbers.")

	result, store := newTestInfra(t)
	if _, err := store.Create("alice", "demo", nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	result.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report struct {
		Status string `json:"status"`
		Server string `json:"server"`
		Tasks  struct {
			Active  int    `json:"active"`
			Created uint64 `json:"created"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "test-tasks", report.Server)
	assert.Equal(t, 1, report.Tasks.Active)
	assert.Equal(t, uint64(1), report.Tasks.Created)
}

func TestCORSOnMCPEndpoint(t *testing.T) {
	result, _ := newTestInfra(t)

	req := httptest.NewRequest("OPTIONS", "/mcp", nil)
	req.Header.Set("Origin", "https://claude.ai")
	rec := httptest.NewRecorder()
	result.Server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code, "preflight is answered by the CORS layer")
	assert.Equal(t, "https://claude.ai", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownPath(t *testing.T) {
	result, _ := newTestInfra(t)

	req := httptest.NewRequest("GET", "/nope", nil)
	rec := httptest.NewRecorder()
	result.Server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
