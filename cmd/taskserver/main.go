package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/janwilmake/mcp-tasks/internal/audit"
	"github.com/janwilmake/mcp-tasks/internal/config"
	"github.com/janwilmake/mcp-tasks/internal/core"
	"github.com/janwilmake/mcp-tasks/internal/events"
	"github.com/janwilmake/mcp-tasks/internal/taskmcp"
	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

const (
	serverName    = "mcp-tasks"
	serverVersion = "1.0.0"
)

var (
	httpMode   = flag.Bool("http", os.Getenv("MCP_TASKS_HTTP") == "true", "Serve over HTTP instead of stdio")
	configPath = flag.String("config", os.Getenv("MCP_TASKS_CONFIG"), "Path to a TOML config file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// Create MCP server
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(false),
	)

	notifier := taskmcp.NewNotifier(s)
	sinks := []events.Sink{notifier}

	var journal *audit.Journal
	if cfg.Audit.Enabled {
		j, err := audit.NewJournal(cfg.Audit.Path)
		if err != nil {
			log.Printf("Warning: audit journal unavailable, continuing without it: %v", err)
		} else {
			journal = j
			defer func() {
				if err := journal.Close(); err != nil {
					log.Printf("Failed to close audit journal: %v", err)
				}
			}()
			sinks = append(sinks, journal)
			go auditCleanupLoop(journal, cfg.Audit.Retention())
			setupAuditResources(s, journal)
		}
	}

	if cfg.Events.NATSURL != "" {
		ncfg := events.DefaultNATSConfig()
		ncfg.URL = cfg.Events.NATSURL
		ncfg.Name = serverName
		ncfg.SubjectPrefix = cfg.Events.NATSSubjectPrefix
		pub, err := events.NewNATSPublisher(ncfg)
		if err != nil {
			log.Printf("Warning: NATS publisher unavailable, continuing without it: %v", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
			log.Printf("EVENTS: publishing task events to %s under %s.*", ncfg.URL, ncfg.SubjectPrefix)
		}
	}

	// Close order matters: the store stops runners first, then the
	// dispatcher drains their final events into the sinks.
	dispatcher := events.NewDispatcher(cfg.Events.Buffer, sinks...)
	defer dispatcher.Close()

	store := tasks.NewStore(cfg.Tasks.StoreConfig(),
		tasks.WithEventSink(dispatcher.Publish),
		tasks.WithProgressSink(notifier.Progress),
	)
	defer store.Close()

	adapter := taskmcp.New(store,
		taskmcp.WithResultWait(cfg.Tasks.ResultWait()),
		taskmcp.WithNotifier(notifier),
	)
	adapter.RegisterManagementTools(s)
	setupDemoTools(s, adapter)

	if *httpMode {
		runHTTPServer(s, cfg, store, dispatcher)
	} else {
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("Server error: %v\n", err)
		}
	}
}

func runHTTPServer(mcpServer *server.MCPServer, cfg config.Config, store *tasks.Store, dispatcher *events.Dispatcher) {
	addr := cfg.Server.Addr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	infraConfig := core.InfrastructureConfig{
		Addr:           addr,
		ServerName:     serverName,
		Version:        serverVersion,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Store:          store,
		Dispatcher:     dispatcher,
	}

	result := core.SetupInfrastructure(mcpServer, infraConfig)
	core.StartServer(result, infraConfig)
}

// auditCleanupLoop prunes journal events past the retention window once an
// hour for the life of the process.
func auditCleanupLoop(journal *audit.Journal, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if err := journal.CleanupOldEvents(retention); err != nil {
			log.Printf("[AUDIT] cleanup failed: %v", err)
		}
	}
}

// setupDemoTools registers example task-aware tools. Each one accepts the
// _meta.task augmentation and also runs as a plain synchronous call.
func setupDemoTools(s *server.MCPServer, adapter *taskmcp.Adapter) {
	adapter.RegisterTaskTool(s, mcp.NewTool("long_task",
		mcp.WithDescription("Run a multi-step job that reports progress along the way"),
		mcp.WithNumber("steps",
			mcp.Description("Number of steps to run (default 5)"),
		),
		mcp.WithNumber("step_ms",
			mcp.Description("Milliseconds per step (default 200)"),
		),
	), longTaskRunner)

	adapter.RegisterTaskTool(s, mcp.NewTool("approve_then_echo",
		mcp.WithDescription("Echo a message after suspending for the caller's approval"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to echo once approved"),
		),
	), approveThenEchoRunner)

	adapter.RegisterTaskTool(s, mcp.NewTool("flaky_task",
		mcp.WithDescription("Fail after a delay, for exercising the failed state"),
		mcp.WithNumber("delay_ms",
			mcp.Description("Milliseconds to wait before failing (default 100)"),
		),
	), flakyTaskRunner)
}

func longTaskRunner(ctx context.Context, tool string, args map[string]any, rep *tasks.Reporter) (any, error) {
	steps := 5
	if n, ok := getNumber(args, "steps"); ok && n > 0 {
		steps = int(n)
	}
	stepDelay := 200 * time.Millisecond
	if n, ok := getNumber(args, "step_ms"); ok && n > 0 {
		stepDelay = time.Duration(n) * time.Millisecond
	}

	start := time.Now()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(stepDelay):
		}
		rep.Progress(float64(i), float64(steps), fmt.Sprintf("step %d of %d", i, steps))
	}

	return map[string]any{
		"steps":   steps,
		"took_ms": time.Since(start).Milliseconds(),
	}, nil
}

func approveThenEchoRunner(ctx context.Context, tool string, args map[string]any, rep *tasks.Reporter) (any, error) {
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return nil, fmt.Errorf("message must be a non-empty string")
	}

	input, err := rep.AwaitInput("approve echoing this message: " + message)
	if err != nil {
		return nil, err
	}
	if err := tasks.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	if override, ok := input["message"].(string); ok && override != "" {
		message = override
	}
	return "approved: " + message, nil
}

func flakyTaskRunner(ctx context.Context, tool string, args map[string]any, rep *tasks.Reporter) (any, error) {
	delay := 100 * time.Millisecond
	if n, ok := getNumber(args, "delay_ms"); ok && n > 0 {
		delay = time.Duration(n) * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	return nil, fmt.Errorf("flaky backend gave up after %dms", delay.Milliseconds())
}

// setupAuditResources exposes journal rollups so operators can read them
// through any MCP client.
func setupAuditResources(s *server.MCPServer, journal *audit.Journal) {
	s.AddResource(mcp.NewResource("tasks://recent",
		"Recent Tasks",
		mcp.WithResourceDescription("Rollup of the most recent tasks, including evicted ones"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recent, err := journal.RecentTasks(20)
		if err != nil {
			return nil, fmt.Errorf("failed to read recent tasks: %v", err)
		}
		data, err := json.MarshalIndent(recent, "", "  ")
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tasks://recent",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})

	s.AddResource(mcp.NewResource("tasks://stats",
		"Journal Statistics",
		mcp.WithResourceDescription("Event, task and transition counts from the audit journal"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := journal.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to read journal stats: %v", err)
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tasks://stats",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// getNumber reads a numeric argument that may arrive as float64, int or
// int64 depending on how the request was decoded.
func getNumber(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
