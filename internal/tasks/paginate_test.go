package tasks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPagination(t *testing.T) {
	t.Logf("Importance: Enumeration is how clients recover task handles they lost. Pages must cover every task exactly once, in creation order, behind an opaque cursor.")

	t.Run("120 tasks paginate as 50, 50, 20 without gaps or duplicates", func(t *testing.T) {
		s, _ := newTestStore(t, Config{MaxConcurrent: -1})
		created := make([]string, 0, 120)
		for i := 0; i < 120; i++ {
			task, err := s.Create("alice", fmt.Sprintf("tool-%03d", i), nil, time.Hour)
			require.NoError(t, err)
			created = append(created, task.ID)
		}

		var all []string
		cursor := ""
		sizes := []int{}
		for {
			page, next, err := s.List("alice", cursor)
			require.NoError(t, err)
			sizes = append(sizes, len(page))
			for _, task := range page {
				all = append(all, task.ID)
			}
			if next == "" {
				break
			}
			cursor = next
		}

		assert.Equal(t, []int{50, 50, 20}, sizes)
		assert.Equal(t, created, all, "pages must walk creation order exactly once")
	})

	t.Run("page size is configurable", func(t *testing.T) {
		s, _ := newTestStore(t, Config{MaxConcurrent: -1, PageSize: 10})
		for i := 0; i < 25; i++ {
			_, err := s.Create("alice", "demo", nil, time.Hour)
			require.NoError(t, err)
		}
		page, next, err := s.List("alice", "")
		require.NoError(t, err)
		assert.Len(t, page, 10)
		assert.NotEmpty(t, next)
	})

	t.Run("cursor from a foreign store shape is rejected", func(t *testing.T) {
		s, _ := newTestStore(t, Config{})
		_, _, err := s.List("alice", "not!valid!base64!")
		assert.ErrorIs(t, err, ErrBadCursor)

		_, _, err = s.List("alice", "bm90LWEtbnVtYmVy") // base64("not-a-number")
		assert.ErrorIs(t, err, ErrBadCursor)
	})

	t.Run("eviction between pages skips entries without breaking the walk", func(t *testing.T) {
		t.Logf("  > Why it's important: The cursor is a position, not a snapshot. Deleting records mid-walk may shrink later pages but must never duplicate or reorder them.")
		s, clk := newTestStore(t, Config{MaxConcurrent: -1, PageSize: 5})
		short := make(map[string]bool)
		for i := 0; i < 15; i++ {
			ttl := time.Hour
			if i >= 5 && i < 10 {
				ttl = time.Second
			}
			task, err := s.Create("alice", "demo", nil, ttl)
			require.NoError(t, err)
			if ttl == time.Second {
				short[task.ID] = true
			}
		}

		page1, cursor, err := s.List("alice", "")
		require.NoError(t, err)
		require.Len(t, page1, 5)

		clk.Advance(2 * time.Second)
		s.sweepOnce(clk.Now())

		var rest []string
		for cursor != "" {
			var page []*Task
			page, cursor, err = s.List("alice", cursor)
			require.NoError(t, err)
			for _, task := range page {
				rest = append(rest, task.ID)
			}
		}

		assert.Len(t, rest, 5, "the five evicted tasks must be skipped")
		for _, id := range rest {
			assert.False(t, short[id], "evicted task %s must not reappear", id)
		}
	})

	t.Run("list shows current status and terminal results", func(t *testing.T) {
		s, _ := newTestStore(t, Config{MaxConcurrent: -1})
		one, err := s.Create("alice", "demo", nil, time.Hour)
		require.NoError(t, err)
		_, err = s.Create("alice", "demo", nil, time.Hour)
		require.NoError(t, err)
		require.NoError(t, s.transition(s.lookup(one.ID), StatusCompleted, "completed", "ok", nil))

		page, _, err := s.List("alice", "")
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, StatusCompleted, page[0].Status)
		assert.Equal(t, StatusWorking, page[1].Status)
	})
}
