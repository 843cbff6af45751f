package tasks

import (
	"fmt"
	"time"
)

// allowedTransition reports whether to is reachable from from in one step.
// Terminal states have no outgoing edges.
func allowedTransition(from, to Status) bool {
	switch from {
	case StatusWorking:
		switch to {
		case StatusInputRequired, StatusCompleted, StatusFailed, StatusCancelled:
			return true
		}
	case StatusInputRequired:
		switch to {
		case StatusWorking, StatusCancelled, StatusFailed:
			return true
		}
	}
	return false
}

// transition applies one status change under the record lock. It stamps
// LastUpdatedAt strictly after its previous value, stores result or error on
// terminal states, wakes waiters, and emits the status event after the lock
// is released. Evicted records refuse with ErrNotFound so a late executor
// write lands nowhere.
func (s *Store) transition(rec *record, to Status, message string, result any, terr *TaskError) error {
	rec.mu.Lock()
	if rec.evicted {
		rec.mu.Unlock()
		return ErrNotFound
	}
	from := rec.task.Status
	if !allowedTransition(from, to) {
		rec.mu.Unlock()
		return fmt.Errorf("cannot move %s task to %s: %w", from, to, ErrInvalidTransition)
	}

	now := s.now()
	if !now.After(rec.task.LastUpdatedAt) {
		now = rec.task.LastUpdatedAt.Add(time.Nanosecond)
	}
	rec.task.Status = to
	rec.task.StatusMessage = message
	rec.task.LastUpdatedAt = now
	switch {
	case to == StatusCompleted:
		rec.task.Result = result
		rec.task.Err = nil
	case to == StatusFailed || to == StatusCancelled:
		rec.task.Result = nil
		rec.task.Err = terr
	}
	if to.Terminal() {
		rec.closeDoneLocked()
	}
	id, owner, tool := rec.task.ID, rec.task.Owner, rec.task.ToolName
	rec.mu.Unlock()

	if to.Terminal() {
		s.noteTerminal(owner, to)
	}
	s.emit(Event{
		Kind:    EventStatusChanged,
		TaskID:  id,
		Owner:   owner,
		Tool:    tool,
		From:    from,
		To:      to,
		Message: message,
		At:      now,
	})
	return nil
}
