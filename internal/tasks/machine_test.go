package tasks

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time by hand instead of sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestStore builds a store with the background sweep disabled so tests
// drive expiry explicitly through sweepOnce.
func newTestStore(t *testing.T, cfg Config, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1
	}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	s := NewStore(cfg, opts...)
	t.Cleanup(s.Close)
	return s, clk
}

func TestTransitionTable(t *testing.T) {
	t.Logf("Importance: The transition table is the single source of truth for task lifecycles. Every other guarantee (result immutability, cancel semantics, waiter wakeups) leans on it rejecting illegal moves.")

	all := []Status{StatusWorking, StatusInputRequired, StatusCompleted, StatusFailed, StatusCancelled}
	legal := map[Status][]Status{
		StatusWorking:       {StatusInputRequired, StatusCompleted, StatusFailed, StatusCancelled},
		StatusInputRequired: {StatusWorking, StatusCancelled, StatusFailed},
	}

	t.Run("allows exactly the documented edges", func(t *testing.T) {
		for _, from := range all {
			allowed := map[Status]bool{}
			for _, to := range legal[from] {
				allowed[to] = true
			}
			for _, to := range all {
				assert.Equal(t, allowed[to], allowedTransition(from, to),
					"transition %s -> %s", from, to)
			}
		}
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		t.Logf("  > Why it's important: A completed task that could move again would let a late cancel or a duplicate result overwrite what the caller already saw.")
		for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
			assert.True(t, from.Terminal())
			for _, to := range all {
				assert.False(t, allowedTransition(from, to), "terminal %s must not reach %s", from, to)
			}
		}
	})
}

func TestTransitionApply(t *testing.T) {
	t.Logf("Importance: Verifies that applying a transition updates status, message and timestamp atomically, and that terminal payloads land exactly once.")
	s, _ := newTestStore(t, Config{})

	create := func(t *testing.T) *record {
		t.Helper()
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)
		rec := s.lookup(task.ID)
		require.NotNil(t, rec)
		return rec
	}

	t.Run("completed stores result and clears error", func(t *testing.T) {
		rec := create(t)
		require.NoError(t, s.transition(rec, StatusCompleted, "completed", "the-result", nil))

		got, err := s.Get(rec.task.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "the-result", got.Result)
		assert.Nil(t, got.Err)
	})

	t.Run("failed stores error and clears result", func(t *testing.T) {
		rec := create(t)
		terr := &TaskError{Code: CodeExecutionFailed, Message: "boom"}
		require.NoError(t, s.transition(rec, StatusFailed, "boom", "should-be-dropped", terr))

		got, err := s.Get(rec.task.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Nil(t, got.Result)
		require.NotNil(t, got.Err)
		assert.Equal(t, CodeExecutionFailed, got.Err.Code)
	})

	t.Run("illegal move is rejected and leaves the record alone", func(t *testing.T) {
		rec := create(t)
		require.NoError(t, s.transition(rec, StatusCompleted, "completed", 42, nil))

		err := s.transition(rec, StatusCancelled, "too late", nil, &TaskError{Code: CodeCancelled, Message: "too late"})
		require.ErrorIs(t, err, ErrInvalidTransition)

		got, err := s.Get(rec.task.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 42, got.Result)
	})

	t.Run("lastUpdatedAt strictly increases even on a frozen clock", func(t *testing.T) {
		t.Logf("  > Why it's important: Pollers order observations by lastUpdatedAt. Two transitions inside one clock tick must still be distinguishable.")
		rec := create(t)
		before := rec.task.LastUpdatedAt
		require.NoError(t, s.transition(rec, StatusInputRequired, "need input", nil, nil))
		mid := rec.task.LastUpdatedAt
		require.NoError(t, s.transition(rec, StatusWorking, "input received", nil, nil))
		after := rec.task.LastUpdatedAt

		assert.True(t, mid.After(before), "first transition must move the timestamp")
		assert.True(t, after.After(mid), "second transition must move it again")
		assert.True(t, rec.task.CreatedAt.Equal(before), "creation timestamp never moves")
	})

	t.Run("every applied transition reaches the event sink", func(t *testing.T) {
		var mu sync.Mutex
		var seen []Event
		s2, _ := newTestStore(t, Config{}, WithEventSink(func(e Event) {
			mu.Lock()
			seen = append(seen, e)
			mu.Unlock()
		}))
		task, err := s2.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)
		rec := s2.lookup(task.ID)
		require.NoError(t, s2.transition(rec, StatusCompleted, "completed", "ok", nil))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, seen, 2)
		assert.Equal(t, EventCreated, seen[0].Kind)
		assert.Equal(t, EventStatusChanged, seen[1].Kind)
		assert.Equal(t, StatusWorking, seen[1].From)
		assert.Equal(t, StatusCompleted, seen[1].To)
		assert.Equal(t, task.ID, seen[1].TaskID)
	})
}

func TestTaskSnapshotIsolation(t *testing.T) {
	t.Logf("Importance: Get hands out copies, not live records. A caller scribbling on a snapshot must never corrupt the stored task.")
	s, _ := newTestStore(t, Config{})

	task, err := s.Create("alice", "demo", map[string]any{"depth": 3}, time.Minute)
	require.NoError(t, err)

	snap, err := s.Get(task.ID, "alice")
	require.NoError(t, err)
	snap.Status = StatusFailed
	snap.Arguments["depth"] = 99

	fresh, err := s.Get(task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, fresh.Status)
	assert.Equal(t, 3, fresh.Arguments["depth"])
}

func TestTaskErrorFormat(t *testing.T) {
	e := &TaskError{Code: CodeExecutionFailed, Message: "disk full"}
	assert.Equal(t, "execution_failed: disk full", e.Error())
	assert.False(t, errors.Is(e, ErrNotFound))
}
