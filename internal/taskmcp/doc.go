// Package taskmcp binds the task store to the MCP surface.
//
// Tools registered through the Adapter accept task-augmented calls: a
// tools/call request carrying a task object in _meta gets a task handle
// back immediately while the invocation runs in the background. The same
// tool called without the augmentation runs synchronously, exactly as an
// untracked MCP tool would.
//
// The package also contributes the five management tools that operate on
// handles (task_get, task_result, task_cancel, task_list, task_resume)
// and a Notifier that turns store events into
// notifications/tasks/status_changed broadcasts and progress updates.
package taskmcp
