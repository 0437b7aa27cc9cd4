// Package journal keeps a durable sqlite audit trail of every file operation
// the agent executed.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one executed command.
type Entry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Session   string    `json:"session"`
	Turn      int       `json:"turn"`
	Operation string    `json:"operation"`
	Path      string    `json:"path,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is an append-only operation log backed by sqlite.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	session TEXT NOT NULL DEFAULT '',
	turn INTEGER NOT NULL,
	operation TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	if _, err := db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS idx_operations_run ON operations(run_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal index: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e. A zero CreatedAt is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO operations (run_id, session, turn, operation, path, success, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Session, e.Turn, e.Operation, e.Path, success, e.Error, e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.query(ctx, `
SELECT id, run_id, session, turn, operation, path, success, error, created_at
FROM operations ORDER BY id DESC LIMIT ?`, limit)
}

// ForRun returns the entries of one run in execution order.
func (j *Journal) ForRun(ctx context.Context, runID string) ([]Entry, error) {
	return j.query(ctx, `
SELECT id, run_id, session, turn, operation, path, success, error, created_at
FROM operations WHERE run_id = ? ORDER BY id ASC`, runID)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			success int
			created int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Session, &e.Turn, &e.Operation, &e.Path, &success, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Success = success == 1
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
