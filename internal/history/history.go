// Package history journals application runs in a local SQLite database.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    app_name TEXT NOT NULL,
    session TEXT NOT NULL,
    command TEXT,
    started_at TEXT NOT NULL DEFAULT (datetime('now')),
    ended_at TEXT,
    exit_code INTEGER,
    stop_reason TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// fixed width so timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Stop reasons recorded when a runner leaves the registry.
const (
	ReasonStopped = "stopped"
	ReasonExpired = "expired"
)

// Run is one journaled application run.
type Run struct {
	ID         string     `json:"id"`
	AppName    string     `json:"appName"`
	Session    string     `json:"session"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	StopReason string     `json:"stopReason,omitempty"`
}

// DB is the run journal.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// RecordStart journals a spawned runner.
func (d *DB) RecordStart(id, appName, session, command string, startedAt time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO runs (id, app_name, session, command, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, appName, session, command, startedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return d.LogEvent("run_start", map[string]any{"id": id, "app": appName, "session": session})
}

// RecordExit journals the process exit code.
func (d *DB) RecordExit(id string, exitCode int, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE runs SET ended_at = COALESCE(ended_at, ?), exit_code = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), exitCode, id)
	if err != nil {
		return fmt.Errorf("failed to record run exit: %w", err)
	}
	return d.LogEvent("run_exit", map[string]any{"id": id, "exit_code": exitCode})
}

// RecordStop journals why a runner was removed.
func (d *DB) RecordStop(id, reason string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE runs SET ended_at = COALESCE(ended_at, ?), stop_reason = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), reason, id)
	if err != nil {
		return fmt.Errorf("failed to record run stop: %w", err)
	}
	return d.LogEvent("run_stop", map[string]any{"id": id, "reason": reason})
}

// LogEvent records a generic event.
func (d *DB) LogEvent(eventType string, payload any) error {
	data, _ := json.Marshal(payload)
	_, err := d.db.Exec(`INSERT INTO events (type, payload) VALUES (?, ?)`, eventType, string(data))
	return err
}

// Recent returns up to limit runs, newest first.
func (d *DB) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT id, app_name, session, COALESCE(command, ''), started_at, ended_at, exit_code, COALESCE(stop_reason, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			ended    sql.NullString
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.AppName, &r.Session, &r.Command, &started, &ended, &exitCode, &r.StopReason); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		if ended.Valid {
			t, _ := time.Parse(timeFormat, ended.String)
			r.EndedAt = &t
		}
		if exitCode.Valid {
			c := int(exitCode.Int64)
			r.ExitCode = &c
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
