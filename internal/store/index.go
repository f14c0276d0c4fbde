package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// Index is a derived SQLite view of run state used for listing and
// metrics queries. The JSON state files remain the source of truth;
// the index is rebuilt row-by-row as runs are saved.
type Index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	status        TEXT NOT NULL,
	current_stage TEXT NOT NULL DEFAULT '',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace_id, created_at DESC);
`

// OpenIndex opens (creating if necessary) the run index database.
func OpenIndex(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Upsert records the run's current state in the index.
func (ix *Index) Upsert(run *core.Run) error {
	_, err := ix.db.Exec(`
		INSERT INTO runs (run_id, workspace_id, status, current_stage, retry_count, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			current_stage = excluded.current_stage,
			retry_count = excluded.retry_count,
			completed_at = excluded.completed_at`,
		string(run.ID), string(run.WorkspaceID), string(run.Status),
		string(run.CurrentStage), run.RetryCount, run.CreatedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("upserting run row: %w", err)
	}
	return nil
}

// RunRow is one indexed run.
type RunRow struct {
	RunID        core.RunID       `json:"run_id"`
	WorkspaceID  core.WorkspaceID `json:"workspace_id"`
	Status       core.RunStatus   `json:"status"`
	CurrentStage string           `json:"current_stage,omitempty"`
	RetryCount   int              `json:"retry_count"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// List returns indexed runs, newest first, optionally filtered by
// workspace.
func (ix *Index) List(workspaceID core.WorkspaceID, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT run_id, workspace_id, status, current_stage, retry_count, created_at, completed_at
		FROM runs`
	args := []interface{}{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, string(workspaceID))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var result []RunRow
	for rows.Next() {
		var row RunRow
		var completedAt sql.NullTime
		if err := rows.Scan(&row.RunID, &row.WorkspaceID, &row.Status,
			&row.CurrentStage, &row.RetryCount, &row.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			row.CompletedAt = &t
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Metrics aggregates run counts by status, optionally per workspace.
type Metrics struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Active    int `json:"active"`
}

// Metrics computes aggregate run counts.
func (ix *Index) Metrics(workspaceID core.WorkspaceID) (*Metrics, error) {
	query := `SELECT status, COUNT(*) FROM runs`
	args := []interface{}{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, string(workspaceID))
	}
	query += ` GROUP BY status`

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	m := &Metrics{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning metrics row: %w", err)
		}
		m.Total += count
		switch core.RunStatus(status) {
		case core.RunStatusCompleted:
			m.Completed += count
		case core.RunStatusFailed:
			m.Failed += count
		case core.RunStatusCancelled:
			m.Cancelled += count
		default:
			m.Active += count
		}
	}
	return m, rows.Err()
}
