// Package config loads server settings from defaults, an optional TOML
// file, and environment variables, in that order: the file overrides
// defaults, the environment overrides the file. Durations are configured
// in milliseconds to match the wire protocol's ttl fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Tasks  TasksConfig  `toml:"tasks"`
	Audit  AuditConfig  `toml:"audit"`
	Events EventsConfig `toml:"events"`
}

// ServerConfig covers the HTTP transport.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// TasksConfig bounds the task store.
type TasksConfig struct {
	MaxConcurrent   int   `toml:"max_concurrent"`
	MaxTTLMS        int64 `toml:"max_ttl_ms"`
	SweepIntervalMS int64 `toml:"sweep_interval_ms"`
	PageSize        int   `toml:"page_size"`
	PollIntervalMS  int64 `toml:"poll_interval_ms"`
	// ResultWaitMS is the default blocking window of the result tool when
	// the caller does not send a timeout.
	ResultWaitMS int64 `toml:"result_wait_ms"`
}

// AuditConfig covers the sqlite journal.
type AuditConfig struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`
	RetentionH int    `toml:"retention_h"`
}

// EventsConfig covers the dispatcher and the optional NATS publisher.
type EventsConfig struct {
	Buffer            int    `toml:"buffer"`
	NATSURL           string `toml:"nats_url"`
	NATSSubjectPrefix string `toml:"nats_subject_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Tasks: TasksConfig{
			MaxConcurrent:   5,
			MaxTTLMS:        3600000,
			SweepIntervalMS: 1000,
			PageSize:        50,
			PollIntervalMS:  500,
			ResultWaitMS:    30000,
		},
		Audit: AuditConfig{
			Enabled:    false,
			Path:       "./task_journal.db",
			RetentionH: 24,
		},
		Events: EventsConfig{
			Buffer:            256,
			NATSSubjectPrefix: "mcp.tasks",
		},
	}
}

// Load builds the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers MCP_TASKS_* variables over whatever the file set.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnvDefault("MCP_TASKS_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("MCP_TASKS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Tasks.MaxConcurrent = getEnvInt("MCP_TASKS_MAX_CONCURRENT", cfg.Tasks.MaxConcurrent)
	cfg.Tasks.MaxTTLMS = getEnvInt64("MCP_TASKS_MAX_TTL_MS", cfg.Tasks.MaxTTLMS)
	cfg.Tasks.SweepIntervalMS = getEnvInt64("MCP_TASKS_SWEEP_MS", cfg.Tasks.SweepIntervalMS)
	cfg.Tasks.PageSize = getEnvInt("MCP_TASKS_PAGE_SIZE", cfg.Tasks.PageSize)
	cfg.Tasks.PollIntervalMS = getEnvInt64("MCP_TASKS_POLL_MS", cfg.Tasks.PollIntervalMS)
	cfg.Tasks.ResultWaitMS = getEnvInt64("MCP_TASKS_RESULT_WAIT_MS", cfg.Tasks.ResultWaitMS)

	cfg.Audit.Enabled = getEnvBool("MCP_TASKS_AUDIT", cfg.Audit.Enabled)
	cfg.Audit.Path = getEnvDefault("MCP_TASKS_AUDIT_PATH", cfg.Audit.Path)
	cfg.Audit.RetentionH = getEnvInt("MCP_TASKS_AUDIT_RETENTION_H", cfg.Audit.RetentionH)

	cfg.Events.Buffer = getEnvInt("MCP_TASKS_EVENTS_BUFFER", cfg.Events.Buffer)
	cfg.Events.NATSURL = getEnvDefault("MCP_TASKS_NATS_URL", cfg.Events.NATSURL)
	cfg.Events.NATSSubjectPrefix = getEnvDefault("MCP_TASKS_NATS_PREFIX", cfg.Events.NATSSubjectPrefix)
}

// StoreConfig converts the millisecond fields into the store's durations.
func (c TasksConfig) StoreConfig() tasks.Config {
	return tasks.Config{
		MaxConcurrent: c.MaxConcurrent,
		MaxTTL:        time.Duration(c.MaxTTLMS) * time.Millisecond,
		SweepInterval: time.Duration(c.SweepIntervalMS) * time.Millisecond,
		PageSize:      c.PageSize,
		PollInterval:  time.Duration(c.PollIntervalMS) * time.Millisecond,
	}
}

// ResultWait is the result tool's default blocking window.
func (c TasksConfig) ResultWait() time.Duration {
	return time.Duration(c.ResultWaitMS) * time.Millisecond
}

// Retention converts the journal retention to a duration.
func (c AuditConfig) Retention() time.Duration {
	return time.Duration(c.RetentionH) * time.Hour
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper functions for environment variables
func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
