package tasks

import "errors"

// Sentinel errors returned by Store operations. Callers match them with
// errors.Is; wrapped forms may carry task ids or state names.
var (
	// ErrNotFound covers unknown ids, evicted ids, and ids owned by a
	// different caller. The three cases are deliberately indistinguishable
	// so that lookups never reveal the existence of foreign tasks.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a status change is not legal
	// from the current state, including any change out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrQuotaExceeded is returned by Create when the caller already has
	// the maximum number of non-terminal tasks.
	ErrQuotaExceeded = errors.New("too many concurrent tasks")

	// ErrAwaitTimeout is returned by AwaitTerminal when the deadline
	// elapses before the task reaches a terminal status.
	ErrAwaitTimeout = errors.New("timed out waiting for task")

	// ErrBadCursor is returned by List for a cursor it did not issue.
	ErrBadCursor = errors.New("malformed list cursor")

	// ErrNotSuspended is returned by Resume when the task is not waiting
	// for input.
	ErrNotSuspended = errors.New("task is not awaiting input")

	// ErrInputDeclined is what a suspended runner receives when the resume
	// decision was a decline.
	ErrInputDeclined = errors.New("input request declined")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("task store is closed")
)
