package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitTerminal(t *testing.T) {
	t.Logf("Importance: Blocking retrieval is what lets callers skip poll loops. The wait must park cheaply, wake on the transition itself, and never outlive its deadline or an eviction.")

	t.Run("already terminal returns immediately", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.transition(s.lookup(task.ID), StatusCompleted, "completed", "ok", nil))

		got, err := s.AwaitTerminal(context.Background(), task.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "ok", got.Result)
	})

	t.Run("waiter wakes on the terminal transition, not on a poll tick", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		type outcome struct {
			task *Task
			err  error
		}
		results := make(chan outcome, 1)
		go func() {
			got, err := s.AwaitTerminal(context.Background(), task.ID, "alice")
			results <- outcome{got, err}
		}()

		// Give the waiter a moment to park, then complete the task.
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.transition(s.lookup(task.ID), StatusCompleted, "completed", "late result", nil))

		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, StatusCompleted, r.task.Status)
			assert.Equal(t, "late result", r.task.Result)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter did not wake after the transition")
		}
	})

	t.Run("many waiters all wake on one transition", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.AwaitTerminal(context.Background(), task.ID, "alice")
			}(i)
		}

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.transition(s.lookup(task.ID), StatusCompleted, "completed", "ok", nil))
		wg.Wait()

		for i := 0; i < n; i++ {
			assert.NoError(t, errs[i], "waiter %d", i)
		}
	})

	t.Run("deadline elapsing surfaces as a timeout", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = s.AwaitTerminal(ctx, task.ID, "alice")
		assert.ErrorIs(t, err, ErrAwaitTimeout)

		got, gerr := s.Get(task.ID, "alice")
		require.NoError(t, gerr)
		assert.Equal(t, StatusWorking, got.Status, "a timed-out wait must not disturb the task")
	})

	t.Run("caller cancellation is reported as such, not as a timeout", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err = s.AwaitTerminal(ctx, task.ID, "alice")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrAwaitTimeout)
	})

	t.Run("eviction during the wait degrades to not-found", func(t *testing.T) {
		s, clk := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Second)
		require.NoError(t, err)

		errs := make(chan error, 1)
		go func() {
			_, err := s.AwaitTerminal(context.Background(), task.ID, "alice")
			errs <- err
		}()

		time.Sleep(10 * time.Millisecond)
		clk.Advance(time.Second)
		s.sweepOnce(clk.Now())

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrNotFound)
		case <-time.After(5 * time.Second):
			t.Fatal("eviction must wake the waiter")
		}
	})

	t.Run("foreign identity cannot wait on the task", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		_, err = s.AwaitTerminal(context.Background(), task.ID, "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store close wakes outstanding waiters", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		task, err := s.Create("alice", "demo", nil, time.Minute)
		require.NoError(t, err)

		errs := make(chan error, 1)
		go func() {
			_, err := s.AwaitTerminal(context.Background(), task.ID, "alice")
			errs <- err
		}()

		time.Sleep(10 * time.Millisecond)
		s.Close()

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrNotFound)
		case <-time.After(5 * time.Second):
			t.Fatal("close must wake the waiter")
		}
	})
}
