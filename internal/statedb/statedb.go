package statedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database holding the last known session snapshot.
// The snapshot is a convenience for restarts and for the CLI when the
// daemon is down; the events queue remains the source of truth, so a lost
// write here costs nothing but a cold dashboard.
// Thread-safe for concurrent use from multiple goroutines within one
// process. Multiple OS processes can safely read/write via WAL mode +
// busy timeout.
type StateDB struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	// Foreign keys (for future use)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: foreign keys: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	// Checkpoint WAL to merge it back into the main database file
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// metadata table
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	// sessions table: one row per tracked session, keyed like the
	// in-memory store (project_dir, falling back to project_name)
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key           TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL DEFAULT '',
			project_name  TEXT NOT NULL DEFAULT '',
			project_dir   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'active',
			waiting_for   TEXT NOT NULL DEFAULT '',
			last_event_at TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	// recent_events table: the bounded event history, seq preserves
	// arrival order across save/load
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS recent_events (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create recent_events: %w", err)
	}

	// Set schema version
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// IsEmpty returns true if the sessions table has no rows.
func (s *StateDB) IsEmpty() (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Snapshot save/load ---

// SaveSnapshot rewrites the sessions and recent_events tables from the
// snapshot in one transaction, so a crash mid-save never leaves a mix of
// old and new rows. Event order is preserved through the autoincrement seq.
func (s *StateDB) SaveSnapshot(snap monitor.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("statedb: clear sessions: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sessions (
			key, session_id, project_name, project_dir,
			status, waiting_for, last_event_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("statedb: prepare sessions: %w", err)
	}
	defer stmt.Close()

	for _, sess := range snap.Sessions {
		if _, err := stmt.Exec(
			sess.Key, sess.SessionID, sess.ProjectName, sess.ProjectDir,
			string(sess.Status), sess.WaitingFor, sess.LastEventTimestamp,
		); err != nil {
			return fmt.Errorf("statedb: insert session %s: %w", sess.Key, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM recent_events"); err != nil {
		return fmt.Errorf("statedb: clear events: %w", err)
	}

	evStmt, err := tx.Prepare("INSERT INTO recent_events (payload) VALUES (?)")
	if err != nil {
		return fmt.Errorf("statedb: prepare events: %w", err)
	}
	defer evStmt.Close()

	for i := range snap.Events {
		payload, err := json.Marshal(&snap.Events[i])
		if err != nil {
			return fmt.Errorf("statedb: marshal event: %w", err)
		}
		if _, err := evStmt.Exec(string(payload)); err != nil {
			return fmt.Errorf("statedb: insert event: %w", err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('saved_at', ?)",
		time.Now().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("statedb: set saved_at: %w", err)
	}

	return tx.Commit()
}

// LoadSnapshot restores the persisted sessions and event history, events
// in their original arrival order. Both slices are empty when nothing was
// ever saved.
func (s *StateDB) LoadSnapshot() ([]monitor.Session, []monitor.EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT key, session_id, project_name, project_dir,
			status, waiting_for, last_event_at
		FROM sessions ORDER BY key
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("statedb: query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []monitor.Session
	for rows.Next() {
		var sess monitor.Session
		var status string
		if err := rows.Scan(
			&sess.Key, &sess.SessionID, &sess.ProjectName, &sess.ProjectDir,
			&status, &sess.WaitingFor, &sess.LastEventTimestamp,
		); err != nil {
			return nil, nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		sess.Status = monitor.Status(status)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("statedb: iterate sessions: %w", err)
	}

	evRows, err := s.db.Query("SELECT payload FROM recent_events ORDER BY seq")
	if err != nil {
		return nil, nil, fmt.Errorf("statedb: query events: %w", err)
	}
	defer evRows.Close()

	var events []monitor.EventRecord
	for evRows.Next() {
		var payload string
		if err := evRows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("statedb: scan event: %w", err)
		}
		var rec monitor.EventRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// One corrupt row should not cost the whole history.
			continue
		}
		events = append(events, rec)
	}
	if err := evRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("statedb: iterate events: %w", err)
	}

	return sessions, events, nil
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SavedAt returns when the snapshot was last written, or the zero time if
// never.
func (s *StateDB) SavedAt() (time.Time, error) {
	val, err := s.GetMeta("saved_at")
	if err != nil || val == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, val)
}
