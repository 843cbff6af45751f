// Package audit keeps a sqlite journal of task lifecycle events. It exists
// for operators: reconstructing what happened to a task after the record
// itself was evicted, and summarizing traffic per tool and owner. It is not
// crash recovery; the in-memory store never reads it back.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// EventRecord is one journal row.
type EventRecord struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	Owner      string    `json:"owner"`
	Event      string    `json:"event"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// TaskSummary is the per-task rollup kept alongside the event rows.
type TaskSummary struct {
	TaskID     string    `json:"task_id"`
	Owner      string    `json:"owner"`
	Tool       string    `json:"tool"`
	LastStatus string    `json:"last_status"`
	EventCount int64     `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Journal writes task events to sqlite. It implements events.Sink.
type Journal struct {
	db   *sql.DB
	path string
}

// NewJournal opens (or creates) the journal database.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		path = "./task_journal.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		event TEXT NOT NULL CHECK (event IN ('created', 'status_changed', 'evicted')),
		from_status TEXT,
		to_status TEXT,
		message TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_events_owner ON task_events(owner);
	CREATE INDEX IF NOT EXISTS idx_task_events_timestamp ON task_events(timestamp);

	-- Per-task rollup, updated on every event
	CREATE TABLE IF NOT EXISTS task_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT UNIQUE NOT NULL,
		owner TEXT NOT NULL,
		tool TEXT,
		last_status TEXT,
		event_count INTEGER DEFAULT 0,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_task_summaries_owner ON task_summaries(owner);
	CREATE INDEX IF NOT EXISTS idx_task_summaries_first_seen ON task_summaries(first_seen);
	`

	_, err := j.db.Exec(query)
	return err
}

// Name implements events.Sink.
func (j *Journal) Name() string { return "audit" }

// Handle implements events.Sink. Journal failures are logged and swallowed;
// auditing must never take the lifecycle down with it.
func (j *Journal) Handle(e tasks.Event) {
	if err := j.Record(e); err != nil {
		log.Printf("[AUDIT] failed to record %s for %s: %v", e.Kind, e.TaskID, err)
	}
}

// Record inserts one event row and refreshes the task's rollup.
func (j *Journal) Record(e tasks.Event) error {
	query := `
	INSERT INTO task_events (task_id, owner, event, from_status, to_status, message, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query, e.TaskID, e.Owner, string(e.Kind),
		string(e.From), string(e.To), e.Message, e.At)
	if err != nil {
		return err
	}

	j.updateSummary(e)
	return nil
}

// updateSummary upserts the per-task rollup row. The tool column sticks to
// the first non-empty value seen, normally from the creation event.
func (j *Journal) updateSummary(e tasks.Event) {
	last := string(e.To)
	if e.Kind == tasks.EventEvicted {
		last = "evicted"
	}

	query := `
	INSERT INTO task_summaries (task_id, owner, tool, last_status, event_count, first_seen, last_seen)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET
		tool = CASE WHEN task_summaries.tool IS NULL OR task_summaries.tool = '' THEN excluded.tool ELSE task_summaries.tool END,
		last_status = excluded.last_status,
		event_count = task_summaries.event_count + 1,
		last_seen = excluded.last_seen`

	if _, err := j.db.Exec(query, e.TaskID, e.Owner, e.Tool, last, e.At, e.At); err != nil {
		log.Printf("[AUDIT] failed to update summary for %s: %v", e.TaskID, err)
	}
}

// TaskHistory returns every journaled event for one task, oldest first.
func (j *Journal) TaskHistory(taskID string) ([]EventRecord, error) {
	query := `
	SELECT id, task_id, owner, event, from_status, to_status, message, timestamp
	FROM task_events
	WHERE task_id = ?
	ORDER BY id ASC`

	rows, err := j.db.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Owner, &r.Event,
			&r.FromStatus, &r.ToStatus, &r.Message, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentTasks returns the most recently active task rollups.
func (j *Journal) RecentTasks(limit int) ([]TaskSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
	SELECT task_id, owner, COALESCE(tool, ''), COALESCE(last_status, ''), event_count, first_seen, COALESCE(last_seen, first_seen)
	FROM task_summaries
	ORDER BY last_seen DESC
	LIMIT ?`

	rows, err := j.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []TaskSummary
	for rows.Next() {
		var s TaskSummary
		if err := rows.Scan(&s.TaskID, &s.Owner, &s.Tool, &s.LastStatus,
			&s.EventCount, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Stats returns basic counts over the journal.
func (j *Journal) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalEvents int64
	if err := j.db.QueryRow("SELECT COUNT(*) FROM task_events").Scan(&totalEvents); err != nil {
		return nil, err
	}
	stats["total_events"] = totalEvents

	var totalTasks int64
	if err := j.db.QueryRow("SELECT COUNT(*) FROM task_summaries").Scan(&totalTasks); err != nil {
		return nil, err
	}
	stats["total_tasks"] = totalTasks

	var totalOwners int64
	if err := j.db.QueryRow("SELECT COUNT(DISTINCT owner) FROM task_summaries").Scan(&totalOwners); err != nil {
		return nil, err
	}
	stats["total_owners"] = totalOwners

	rows, err := j.db.Query(`
		SELECT to_status, COUNT(*)
		FROM task_events
		WHERE event = 'status_changed'
		GROUP BY to_status
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statusCounts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		statusCounts[status] = count
	}
	stats["transitions"] = statusCounts

	return stats, nil
}

// CleanupOldEvents removes journal rows older than maxAge, plus rollups
// that no longer have any events.
func (j *Journal) CleanupOldEvents(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	result, err := j.db.Exec(`DELETE FROM task_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("[AUDIT] cleaned up %d old event rows", n)
	}

	summaryResult, err := j.db.Exec(
		`DELETE FROM task_summaries WHERE task_id NOT IN (SELECT DISTINCT task_id FROM task_events)`)
	if err != nil {
		return err
	}
	if n, _ := summaryResult.RowsAffected(); n > 0 {
		log.Printf("[AUDIT] cleaned up %d orphaned task rollups", n)
	}

	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
