// Package db persists session state and analysis artifacts to SQLite so a
// restarted host can list past sessions and re-serve their results. The live
// pipeline never reads from here; the session store is the source of truth
// while a session is in memory.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// SessionRecord is the persisted summary of a session.
type SessionRecord struct {
	ID           string
	Prompt       string
	State        string
	ActionURL    *string
	ErrorKind    *string
	ErrorMessage *string
	CreatedAt    string
	UpdatedAt    string
}

// Artifact is one persisted analysis product (DAG JSON, classified
// parameters, auth analysis).
type Artifact struct {
	SessionID string
	Kind      string
	Payload   string
	UpdatedAt string
}

// LogRecord is one persisted log line.
type LogRecord struct {
	ID        int64
	SessionID string
	Level     string
	Message   string
	LoggedAt  string
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	// Goose runs each migration in a transaction; a failed statement rolls
	// the whole migration back and leaves goose_db_version untouched.
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UpsertSession writes or refreshes the session summary row.
func (d *DB) UpsertSession(r SessionRecord) error {
	ts := now()
	_, err := d.conn.Exec(
		`INSERT INTO sessions (id, prompt, state, action_url, error_kind, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   action_url = excluded.action_url,
		   error_kind = excluded.error_kind,
		   error_message = excluded.error_message,
		   updated_at = excluded.updated_at`,
		r.ID, r.Prompt, r.State, r.ActionURL, r.ErrorKind, r.ErrorMessage, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", r.ID, err)
	}
	return nil
}

const sessionColumns = `id, prompt, state, action_url, error_kind, error_message, created_at, updated_at`

func scanSession(scanner interface{ Scan(...any) error }, r *SessionRecord) error {
	return scanner.Scan(&r.ID, &r.Prompt, &r.State, &r.ActionURL, &r.ErrorKind, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
}

// GetSession returns one persisted session, or sql.ErrNoRows.
func (d *DB) GetSession(id string) (*SessionRecord, error) {
	row := d.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	var r SessionRecord
	if err := scanSession(row, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSessions returns persisted sessions, newest first.
func (d *DB) ListSessions(limit, offset int) ([]SessionRecord, error) {
	rows, err := d.conn.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := scanSession(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes the session and, via cascade, its artifacts and
// logs.
func (d *DB) DeleteSession(id string) error {
	_, err := d.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// PutArtifact stores or replaces one analysis artifact.
func (d *DB) PutArtifact(sessionID, kind, payload string) error {
	_, err := d.conn.Exec(
		`INSERT INTO artifacts (session_id, kind, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		sessionID, kind, payload, now(),
	)
	if err != nil {
		return fmt.Errorf("put artifact %s/%s: %w", sessionID, kind, err)
	}
	return nil
}

// GetArtifact returns one artifact payload, or sql.ErrNoRows.
func (d *DB) GetArtifact(sessionID, kind string) (string, error) {
	var payload string
	err := d.conn.QueryRow(
		`SELECT payload FROM artifacts WHERE session_id = ? AND kind = ?`,
		sessionID, kind,
	).Scan(&payload)
	return payload, err
}

// AppendLog persists one log line.
func (d *DB) AppendLog(sessionID, level, message string) error {
	_, err := d.conn.Exec(
		`INSERT INTO session_logs (session_id, level, message, logged_at) VALUES (?, ?, ?, ?)`,
		sessionID, level, message, now(),
	)
	if err != nil {
		return fmt.Errorf("append log for %s: %w", sessionID, err)
	}
	return nil
}

// ListLogs returns the most recent limit log lines for a session, oldest
// first.
func (d *DB) ListLogs(sessionID string, limit int) ([]LogRecord, error) {
	rows, err := d.conn.Query(
		`SELECT id, session_id, level, message, logged_at FROM (
		   SELECT id, session_id, level, message, logged_at
		   FROM session_logs WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Level, &r.Message, &r.LoggedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
