package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Runner executes one tool invocation. It must honor ctx cancellation and
// may use the reporter to publish progress or suspend for caller input. The
// returned value becomes the task result; a returned error ends the task as
// failed, or as cancelled when ctx was cancelled or the input request was
// declined.
type Runner func(ctx context.Context, toolName string, args map[string]any, rep *Reporter) (any, error)

// ProgressSink receives progress reports from running invocations.
type ProgressSink func(taskID string, progress, total float64, message string)

// WithProgressSink registers the callback invoked when a runner reports
// progress. Without one, progress reports are dropped silently.
func WithProgressSink(fn ProgressSink) Option {
	return func(s *Store) { s.progress = fn }
}

// Reporter is handed to a Runner so the invocation can talk back to the
// lifecycle: progress updates and input_required suspension. A detached
// reporter, one with no task behind it, drops progress and refuses input
// requests.
type Reporter struct {
	s   *Store
	rec *record
}

// TaskID returns the id of the task this reporter belongs to, or "" when
// the invocation runs detached.
func (r *Reporter) TaskID() string {
	if r.rec == nil {
		return ""
	}
	return r.rec.task.ID
}

// Progress publishes a progress report. Best-effort; it never fails and
// never blocks the invocation.
func (r *Reporter) Progress(progress, total float64, message string) {
	if r.rec == nil || r.s.progress == nil {
		return
	}
	r.s.progress(r.rec.task.ID, progress, total, message)
}

// AwaitInput suspends the task in input_required until the caller delivers
// a resume decision. On accept it moves the task back to working and
// returns the supplied input; on decline it returns ErrInputDeclined, which
// the runner should propagate. Cancellation and eviction both end the wait
// with the context error.
func (r *Reporter) AwaitInput(prompt string) (map[string]any, error) {
	if r.rec == nil {
		return nil, fmt.Errorf("input can only be requested by task-augmented invocations")
	}
	if err := r.s.transition(r.rec, StatusInputRequired, prompt, nil, nil); err != nil {
		return nil, err
	}
	select {
	case d := <-r.rec.resume:
		if !d.Accept {
			if d.Reason != "" {
				return nil, fmt.Errorf("%w: %s", ErrInputDeclined, d.Reason)
			}
			return nil, ErrInputDeclined
		}
		if err := r.s.transition(r.rec, StatusWorking, "input received", nil, nil); err != nil {
			return nil, err
		}
		return d.Input, nil
	case <-r.rec.ctx.Done():
		return nil, r.rec.ctx.Err()
	}
}

// CheckCancellation returns the context error if cancellation has been
// requested, nil otherwise. Runners call this between units of work.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Execute runs the invocation behind id to completion and applies its one
// terminal transition. It blocks until the runner returns, so callers start
// it on its own goroutine:
//
//	go store.Execute(task.ID, runner)
//
// Exactly one Execute per task; later calls are ignored.
func (s *Store) Execute(id string, run Runner) {
	rec := s.lookup(id)
	if rec == nil {
		log.Printf("TASKS: execute skipped, %s already gone", id)
		return
	}

	rec.mu.Lock()
	if rec.evicted || rec.started {
		rec.mu.Unlock()
		return
	}
	rec.started = true
	tool := rec.task.ToolName
	args := rec.task.Clone().Arguments
	rec.mu.Unlock()

	ctx := rec.ctx
	rep := &Reporter{s: s, rec: rec}
	result, err := invoke(ctx, tool, args, run, rep)

	switch {
	case err == nil:
		// A result that arrives after cancellation was requested still
		// wins: the invocation finished before it observed the signal.
		s.finishCompleted(rec, result)
	case errors.Is(err, ErrInputDeclined):
		s.finish(rec, StatusCancelled, err.Error(), nil, &TaskError{Code: CodeInputDeclined, Message: err.Error()})
	case ctx.Err() != nil:
		s.finish(rec, StatusCancelled, "cancelled", nil, &TaskError{Code: CodeCancelled, Message: err.Error()})
	default:
		s.finish(rec, StatusFailed, err.Error(), nil, &TaskError{Code: CodeExecutionFailed, Message: err.Error()})
	}
}

// RunDetached executes a runner synchronously with no task bookkeeping, for
// invocations that were not task-augmented. Panics are still converted into
// errors so a misbehaving tool cannot take the server down.
func RunDetached(ctx context.Context, tool string, args map[string]any, run Runner) (any, error) {
	return invoke(ctx, tool, args, run, &Reporter{})
}

func invoke(ctx context.Context, tool string, args map[string]any, run Runner, rep *Reporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return run(ctx, tool, args, rep)
}

// finishCompleted applies the completed transition. A runner that absorbed
// a declined input request and returned a result anyway leaves the record
// in input_required; it is brought back through working first so the
// transition table stays authoritative.
func (s *Store) finishCompleted(rec *record, result any) {
	err := s.transition(rec, StatusCompleted, "completed", result, nil)
	if errors.Is(err, ErrInvalidTransition) {
		if werr := s.transition(rec, StatusWorking, "input received", nil, nil); werr == nil {
			err = s.transition(rec, StatusCompleted, "completed", result, nil)
		}
	}
	s.noteFinishErr(rec, StatusCompleted, err)
}

func (s *Store) finish(rec *record, to Status, message string, result any, terr *TaskError) {
	err := s.transition(rec, to, message, result, terr)
	s.noteFinishErr(rec, to, err)
}

func (s *Store) noteFinishErr(rec *record, to Status, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		s.mu.Lock()
		s.discarded++
		s.mu.Unlock()
		log.Printf("TASKS: %s outcome for %s discarded, record evicted mid-run", to, rec.task.ID)
	default:
		log.Printf("TASKS: dropping %s outcome for %s: %v", to, rec.task.ID, err)
	}
}
