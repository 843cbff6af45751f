package tasks

import (
	"context"
	"errors"
	"fmt"
)

// AwaitTerminal blocks until the caller's task reaches a terminal status,
// then returns its snapshot. Only the calling goroutine parks; the wait is
// woken by the transition itself, not by polling. A deadline on ctx turns
// into ErrAwaitTimeout, a plain cancellation is returned as the context
// error, and a record evicted before finishing comes back as ErrNotFound.
func (s *Store) AwaitTerminal(ctx context.Context, id, caller string) (*Task, error) {
	rec, err := s.lookupOwned(id, caller)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.evicted {
		rec.mu.Unlock()
		return nil, ErrNotFound
	}
	if rec.task.Status.Terminal() {
		c := rec.task.Clone()
		rec.mu.Unlock()
		return &c, nil
	}
	done := rec.done
	rec.mu.Unlock()

	select {
	case <-done:
		return s.snapshot(rec)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task %s: %w", id, ErrAwaitTimeout)
		}
		return nil, ctx.Err()
	}
}
