// Package core provides the shared HTTP infrastructure for the task server:
// transport mounting, middleware, health reporting and graceful shutdown.
package core

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/janwilmake/mcp-tasks/internal/events"
	"github.com/janwilmake/mcp-tasks/internal/middleware"
	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// InfrastructureConfig configures the HTTP front of the task server.
type InfrastructureConfig struct {
	Addr           string
	ServerName     string
	Version        string
	AllowedOrigins []string

	// Store feeds /health; Dispatcher is optional and adds its drop count
	// to the same report.
	Store      *tasks.Store
	Dispatcher *events.Dispatcher
}

// MCPServerResult bundles the ready-to-run HTTP server with its shutdown
// hook so callers can drive both from one place.
type MCPServerResult struct {
	Server       *http.Server
	ShutdownFunc func() error
}

// SetupInfrastructure wires the MCP server into an HTTP server: the
// streamable transport on /mcp, the health endpoint, access logging and
// CORS as the outermost layer.
func SetupInfrastructure(mcpServer *server.MCPServer, config InfrastructureConfig) *MCPServerResult {
	// Sessions are stateful: the session id doubles as the task owner
	// identity, so it must survive across requests.
	streamableServer := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	handler := accessLogMiddleware(streamableServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(config))

	mux.Handle("/mcp", handler)
	mux.Handle("/mcp/", handler)

	// CORS is outermost so even error responses carry the headers.
	corsConfig := middleware.DefaultCORSConfig().WithOrigins(config.AllowedOrigins)
	finalHandler := middleware.CORS(corsConfig)(mux)

	srv := &http.Server{
		Addr:    config.Addr,
		Handler: finalHandler,
	}

	return &MCPServerResult{
		Server:       srv,
		ShutdownFunc: func() error { return gracefulShutdown(srv) },
	}
}

// StartServer runs the HTTP server until SIGINT/SIGTERM or a listener
// error, then drains in-flight requests for up to 5 seconds.
func StartServer(result *MCPServerResult, config InfrastructureConfig) {
	base := displayURL(config.Addr)
	log.Printf("[HTTP] %s %s serving MCP at %s/mcp", config.ServerName, config.Version, base)
	log.Printf("[HTTP] try: npx @modelcontextprotocol/inspector --cli %s/mcp --method tools/list", base)

	listenErr := make(chan error, 1)
	go func() {
		if err := result.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-listenErr:
		log.Fatalf("[HTTP] listener failed: %v", err)
	case sig := <-stop:
		log.Printf("[HTTP] caught %v, draining connections", sig)
	}

	if err := result.ShutdownFunc(); err != nil {
		log.Fatalf("[HTTP] shutdown did not finish cleanly: %v", err)
	}

	log.Printf("[HTTP] %s stopped", config.ServerName)
}

// accessLogMiddleware logs one line per request with a rough client guess,
// which is usually enough to tell a stuck poller from a stuck client.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientType := "HTTP_CLIENT"
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			clientType = "SSE_STREAM"
		} else if strings.Contains(r.Header.Get("User-Agent"), "inspector") {
			clientType = "MCP_INSPECTOR"
		}
		log.Printf("[HTTP] %s %s from %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, clientType)
		next.ServeHTTP(w, r)
	})
}

// healthReport is the /health response body.
type healthReport struct {
	Status  string       `json:"status"`
	Server  string       `json:"server"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Tasks   tasks.Stats  `json:"tasks"`
	Events  *eventHealth `json:"events,omitempty"`
}

type eventHealth struct {
	Dropped uint64 `json:"dropped"`
}

func healthHandler(config InfrastructureConfig) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{
			Status:  "healthy",
			Server:  config.ServerName,
			Version: config.Version,
			Uptime:  time.Since(started).Round(time.Second).String(),
		}
		if config.Store != nil {
			report.Tasks = config.Store.Stats()
		}
		if config.Dispatcher != nil {
			report.Events = &eventHealth{Dropped: config.Dispatcher.Dropped()}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("[HTTP] health encode failed: %v", err)
		}
	}
}

// displayURL renders a bind address as something clickable in logs.
func displayURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// gracefulShutdown gives in-flight requests five seconds to finish.
func gracefulShutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
