// Package journal provides the SQLite-backed execution history of a
// workflow: phase transitions, worker run outcomes, and gate decisions.
// The journal is append-only and strictly observational; the engine's
// source of truth stays the YAML state document.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Journal wraps an SQLite connection with history operations.
type Journal struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the journal path for a workflow directory.
func DefaultPath(dir string) string {
	return filepath.Join(dir, ".specflow", "journal.db")
}

// Open opens the journal at the given path, creating parent directories
// and applying schema migrations. WAL mode is enabled so status queries
// never block a running workflow.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{conn: conn, path: path}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn.Close()
}

// Path returns the path to the journal file.
func (j *Journal) Path() string {
	return j.path
}

// migrate applies all pending schema migrations.
func (j *Journal) migrate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := j.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Transitions},
		{2, migrationV2Runs},
		{3, migrationV3Gates},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := j.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Transitions = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase TEXT NOT NULL,
	status TEXT NOT NULL,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_phase ON transitions(phase);
`

const migrationV2Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_item_id ON runs(item_id);
`

const migrationV3Gates = `
CREATE TABLE IF NOT EXISTS gates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase TEXT NOT NULL,
	decision TEXT NOT NULL,
	decided_by TEXT NOT NULL,
	at DATETIME NOT NULL
);
`

// RecordTransition appends a phase status change.
func (j *Journal) RecordTransition(ctx context.Context, phase, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.conn.ExecContext(ctx,
		"INSERT INTO transitions (phase, status, at) VALUES (?, ?, ?)",
		phase, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordRun appends a worker run outcome.
func (j *Journal) RecordRun(ctx context.Context, itemID, outcome, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.conn.ExecContext(ctx,
		"INSERT INTO runs (item_id, outcome, detail, at) VALUES (?, ?, ?, ?)",
		itemID, outcome, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordGate appends a gate decision.
func (j *Journal) RecordGate(ctx context.Context, phase, decision, by string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.conn.ExecContext(ctx,
		"INSERT INTO gates (phase, decision, decided_by, at) VALUES (?, ?, ?, ?)",
		phase, decision, by, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record gate: %w", err)
	}
	return nil
}

// Entry is one row of the merged history view.
type Entry struct {
	// Kind is transition, run, or gate.
	Kind string
	// Subject is the phase or item the entry describes.
	Subject string
	// Detail is the status, outcome, or decision plus any note.
	Detail string
	// At is when the entry was recorded.
	At time.Time
}

// History returns the most recent entries across all tables, newest
// first, capped at limit.
func (j *Journal) History(ctx context.Context, limit int) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := j.conn.QueryContext(ctx, `
		SELECT 'transition', phase, status, at FROM transitions
		UNION ALL
		SELECT 'run', item_id, outcome || CASE WHEN detail != '' THEN ': ' || detail ELSE '' END, at FROM runs
		UNION ALL
		SELECT 'gate', phase, decision || ' by ' || decided_by, at FROM gates
		ORDER BY at DESC, 1
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.Kind, &e.Subject, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
