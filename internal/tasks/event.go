package tasks

import "time"

// EventKind says what happened to a task.
type EventKind string

const (
	// EventCreated fires once when a record is inserted.
	EventCreated EventKind = "created"
	// EventStatusChanged fires on every applied transition.
	EventStatusChanged EventKind = "status_changed"
	// EventEvicted fires when the sweep hard-deletes a record.
	EventEvicted EventKind = "evicted"
)

// Event describes one observable change to a task. Events are emitted after
// the change is applied and outside any lock; a slow or absent sink never
// blocks a transition.
type Event struct {
	Kind    EventKind
	TaskID  string
	Owner   string
	Tool    string
	From    Status // zero value for created
	To      Status // status after the change; for evicted, the last status
	Message string
	At      time.Time
}

// EventSink receives events. Implementations must not block; delivery is
// best-effort and a dropped event is not an error.
type EventSink func(Event)

func (s *Store) emit(e Event) {
	if s.sink != nil {
		s.sink(e)
	}
}
