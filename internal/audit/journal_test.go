package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func at(offset time.Duration) time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func TestJournalRecording(t *testing.T) {
	t.Logf("Importance: The journal is the only trace of a task after eviction. A full lifecycle must read back in order with the statuses it actually went through.")
	j := newTestJournal(t)

	lifecycle := []tasks.Event{
		{Kind: tasks.EventCreated, TaskID: "t-1", Owner: "alice", To: tasks.StatusWorking, At: at(0)},
		{Kind: tasks.EventStatusChanged, TaskID: "t-1", Owner: "alice", From: tasks.StatusWorking, To: tasks.StatusInputRequired, Message: "which color?", At: at(time.Second)},
		{Kind: tasks.EventStatusChanged, TaskID: "t-1", Owner: "alice", From: tasks.StatusInputRequired, To: tasks.StatusWorking, Message: "input received", At: at(2 * time.Second)},
		{Kind: tasks.EventStatusChanged, TaskID: "t-1", Owner: "alice", From: tasks.StatusWorking, To: tasks.StatusCompleted, Message: "completed", At: at(3 * time.Second)},
		{Kind: tasks.EventEvicted, TaskID: "t-1", Owner: "alice", From: tasks.StatusCompleted, At: at(time.Hour)},
	}
	for _, e := range lifecycle {
		require.NoError(t, j.Record(e))
	}

	history, err := j.TaskHistory("t-1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "created", history[0].Event)
	assert.Equal(t, "input_required", history[1].ToStatus)
	assert.Equal(t, "which color?", history[1].Message)
	assert.Equal(t, "completed", history[3].ToStatus)
	assert.Equal(t, "evicted", history[4].Event)
	assert.Equal(t, "completed", history[4].FromStatus, "eviction must record the last status")
}

func TestJournalSummaries(t *testing.T) {
	t.Logf("Importance: Operators scan rollups, not raw events. The rollup must track the latest status and count every event exactly once.")
	j := newTestJournal(t)

	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventCreated, TaskID: "t-1", Owner: "alice", Tool: "long_task", To: tasks.StatusWorking, At: at(0)}))
	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventStatusChanged, TaskID: "t-1", Owner: "alice", From: tasks.StatusWorking, To: tasks.StatusFailed, Message: "boom", At: at(time.Second)}))
	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventCreated, TaskID: "t-2", Owner: "bob", Tool: "flaky_task", To: tasks.StatusWorking, At: at(2 * time.Second)}))

	recent, err := j.RecentTasks(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	byID := map[string]TaskSummary{}
	for _, s := range recent {
		byID[s.TaskID] = s
	}
	assert.Equal(t, "failed", byID["t-1"].LastStatus)
	assert.Equal(t, int64(2), byID["t-1"].EventCount)
	assert.Equal(t, "long_task", byID["t-1"].Tool, "tool name must stick from the creation event")
	assert.Equal(t, "working", byID["t-2"].LastStatus)
	assert.Equal(t, "bob", byID["t-2"].Owner)
	assert.Equal(t, "flaky_task", byID["t-2"].Tool)
}

func TestJournalStats(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventCreated, TaskID: "t-1", Owner: "alice", To: tasks.StatusWorking, At: at(0)}))
	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventStatusChanged, TaskID: "t-1", Owner: "alice", From: tasks.StatusWorking, To: tasks.StatusCompleted, At: at(time.Second)}))
	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventCreated, TaskID: "t-2", Owner: "bob", To: tasks.StatusWorking, At: at(2 * time.Second)}))
	require.NoError(t, j.Record(tasks.Event{Kind: tasks.EventStatusChanged, TaskID: "t-2", Owner: "bob", From: tasks.StatusWorking, To: tasks.StatusCompleted, At: at(3 * time.Second)}))

	stats, err := j.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats["total_events"])
	assert.Equal(t, int64(2), stats["total_tasks"])
	assert.Equal(t, int64(2), stats["total_owners"])
	transitions := stats["transitions"].(map[string]int64)
	assert.Equal(t, int64(2), transitions["completed"])
}

func TestJournalCleanup(t *testing.T) {
	t.Logf("Importance: The journal outlives every task, so retention is its only size bound.")
	j := newTestJournal(t)

	old := tasks.Event{Kind: tasks.EventCreated, TaskID: "t-old", Owner: "alice", To: tasks.StatusWorking, At: time.Now().Add(-48 * time.Hour)}
	fresh := tasks.Event{Kind: tasks.EventCreated, TaskID: "t-new", Owner: "alice", To: tasks.StatusWorking, At: time.Now()}
	require.NoError(t, j.Record(old))
	require.NoError(t, j.Record(fresh))

	require.NoError(t, j.CleanupOldEvents(24*time.Hour))

	gone, err := j.TaskHistory("t-old")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := j.TaskHistory("t-new")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	recent, err := j.RecentTasks(10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "rollups without events must be cleaned up too")
	assert.Equal(t, "t-new", recent[0].TaskID)
}
