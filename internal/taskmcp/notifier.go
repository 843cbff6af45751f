package taskmcp

import (
	"log"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// Broadcaster is the slice of the MCP server the notifier needs.
type Broadcaster interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// StatusMethod is the notification sent on every status change.
const StatusMethod = "notifications/tasks/status_changed"

// Notifier turns store events into MCP notifications. Delivery is
// best-effort: a dropped notification never blocks or fails a transition,
// and pollers see the same truth through task_get.
type Notifier struct {
	srv   Broadcaster
	clock func() time.Time

	// minProgressInterval caps progress sends per task. Status changes are
	// never rate limited.
	minProgressInterval time.Duration

	mu           sync.Mutex
	tokens       map[string]mcp.ProgressToken
	lastProgress map[string]time.Time
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithProgressInterval overrides the per-task progress rate limit.
func WithProgressInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.minProgressInterval = d }
}

// WithNotifierClock injects a clock, for tests.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) { n.clock = now }
}

// NewNotifier builds a notifier over the server.
func NewNotifier(srv Broadcaster, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		srv:                 srv,
		clock:               time.Now,
		minProgressInterval: time.Second,
		tokens:              make(map[string]mcp.ProgressToken),
		lastProgress:        make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name identifies the notifier on the event dispatcher.
func (n *Notifier) Name() string { return "notifier" }

// Handle broadcasts status changes and drops per-task state once a task is
// gone. Creation events are not broadcast; the creator already holds the
// handle.
func (n *Notifier) Handle(e tasks.Event) {
	switch e.Kind {
	case tasks.EventStatusChanged:
		params := map[string]any{
			"taskId":    e.TaskID,
			"status":    string(e.To),
			"timestamp": e.At.UTC(),
		}
		if e.Message != "" {
			params["statusMessage"] = e.Message
		}
		n.srv.SendNotificationToAllClients(StatusMethod, params)
		if e.To.Terminal() {
			n.forget(e.TaskID)
		}
	case tasks.EventEvicted:
		n.forget(e.TaskID)
	}
}

// TrackProgress associates a task with the progress token of the request
// that created it. Without a token, progress reports for the task are
// logged and dropped.
func (n *Notifier) TrackProgress(taskID string, token mcp.ProgressToken) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[taskID] = token
}

// Progress forwards a runner's progress report to the requester. At most
// one notification per task per interval goes out; the final report, where
// progress reaches total, always does.
func (n *Notifier) Progress(taskID string, progress, total float64, message string) {
	n.mu.Lock()
	token, tracked := n.tokens[taskID]
	if !tracked {
		n.mu.Unlock()
		log.Printf("EVENTS: progress for %s dropped, no token: %.1f/%.1f %s", taskID, progress, total, message)
		return
	}

	now := n.clock()
	final := total > 0 && progress >= total
	if last, ok := n.lastProgress[taskID]; ok && !final && now.Sub(last) < n.minProgressInterval {
		n.mu.Unlock()
		return
	}
	n.lastProgress[taskID] = now
	n.mu.Unlock()

	params := map[string]any{
		"progressToken": token,
		"progress":      progress,
	}
	if total > 0 {
		params["total"] = total
	}
	if message != "" {
		params["message"] = message
	}
	n.srv.SendNotificationToAllClients("notifications/progress", params)
}

func (n *Notifier) forget(taskID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tokens, taskID)
	delete(n.lastProgress, taskID)
}
