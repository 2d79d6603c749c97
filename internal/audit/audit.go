// Package audit persists session lifecycle events to sqlite — SPEC_FULL
// §6's addition (C11). It is explicitly not a game-state save file: it
// records connect/reconnect/orphan/destroy transitions for operators, the
// same distinction spec.md's Non-goals draw ("no on-disk save files" is
// about game state, not supervisor bookkeeping).
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	userid INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	bytes_in INTEGER NOT NULL,
	bytes_out INTEGER NOT NULL,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id);
`

// Log is a sqlite-backed, append-only trail of session transitions. It
// implements supervisor.Hook.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path, in WAL mode
// for concurrent admin-surface reads while the supervisor keeps writing.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{db: db}, nil
}

// SessionEvent implements supervisor.Hook.
func (l *Log) SessionEvent(kind string, s session.Snapshot) {
	_, err := l.db.Exec(
		`INSERT INTO session_events(session_id, kind, userid, pid, bytes_in, bytes_out, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, kind, s.UserID, s.PID, s.BytesIn, s.BytesOut, time.Now(),
	)
	if err != nil {
		// Audit failures must never take down a live session — log and
		// move on, matching spec.md's "a single write error is logged,
		// not fatal" posture for the relay.
		logger.Warn("audit: failed to record session event", "kind", kind, "error", err)
	}
}

// Recent returns the most recent events, newest first, for the admin
// surface's history view.
func (l *Log) Recent(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT session_id, kind, userid, pid, bytes_in, bytes_out, at
		 FROM session_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.SessionID, &e.Kind, &e.UserID, &e.PID, &e.BytesIn, &e.BytesOut, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// Event is one row of the audit trail.
type Event struct {
	SessionID string
	Kind      string
	UserID    int
	PID       int
	BytesIn   uint64
	BytesOut  uint64
	At        time.Time
}
