package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// NATSConfig holds the connection settings for the NATS event publisher.
type NATSConfig struct {
	// URL of the server, e.g. "nats://localhost:4222".
	URL string
	// Name identifies this client to the server.
	Name string
	// SubjectPrefix is prepended to the event kind, so a status change
	// goes out on "<prefix>.status_changed". Default "mcp.tasks".
	SubjectPrefix string

	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns settings that reconnect forever.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "mcp-tasks",
		SubjectPrefix:  "mcp.tasks",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSPublisher mirrors task events onto a NATS subject tree. Publishes go
// through the client's async buffer, so a slow or absent server costs
// nothing beyond dropped events.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// natsEvent is the wire form of one event.
type natsEvent struct {
	Event   string    `json:"event"`
	TaskID  string    `json:"taskId"`
	Owner   string    `json:"owner"`
	Tool    string    `json:"tool,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// NewNATSPublisher connects to the configured server.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "mcp.tasks"
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Handle publishes the event under "<prefix>.<kind>".
func (p *NATSPublisher) Handle(e tasks.Event) {
	if p.conn.IsClosed() {
		return
	}
	payload, err := json.Marshal(natsEvent{
		Event:   string(e.Kind),
		TaskID:  e.TaskID,
		Owner:   e.Owner,
		Tool:    e.Tool,
		From:    string(e.From),
		To:      string(e.To),
		Message: e.Message,
		At:      e.At,
	})
	if err != nil {
		log.Printf("EVENTS: marshal %s event for %s: %v", e.Kind, e.TaskID, err)
		return
	}
	subject := p.prefix + "." + string(e.Kind)
	if err := p.conn.Publish(subject, payload); err != nil {
		log.Printf("EVENTS: nats publish to %s: %v", subject, err)
	}
}

// Close flushes pending publishes and drops the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
