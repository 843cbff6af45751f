// Package tasks provides the lifecycle core for task-augmented MCP tool calls.
//
// A task wraps one asynchronous tool invocation: the server returns a handle
// immediately, runs the tool in the background under a cancellable context,
// and lets the caller poll status, block for the terminal result, request
// cancellation, or page through its own tasks. Records expire by TTL and are
// hard-deleted by a background sweep; a still-running invocation whose record
// expires is cancelled along with it.
//
// Basic usage:
//
//	store := tasks.NewStore(tasks.Config{}, tasks.WithEventSink(sink))
//	defer store.Close()
//
//	task, err := store.Create(owner, "slow_report", args, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	go store.Execute(task.ID, runner)
//
//	// Later, from another request:
//	done, err := store.AwaitTerminal(ctx, task.ID, owner)
//
// Every record is bound to the caller identity that created it. Lookups from
// any other identity report not-found; existence of foreign tasks is never
// revealed. All status changes go through a single transition table, so a
// cancel racing a natural completion resolves to exactly one terminal state.
package tasks
