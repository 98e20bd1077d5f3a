// Package history keeps a best-effort journal of accepted lifecycle events
// in a local SQLite database. The journal supplements the registry; it is
// never consulted for registry correctness, and any failure here is the
// caller's to log and ignore.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/soracane/agentwatch/internal/model"
)

type Store struct {
	db *sql.DB
}

type Entry struct {
	EventID    string
	Event      model.EventKind
	SessionID  string
	TTY        string
	CWD        string
	Status     model.Status
	RecordedAt time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
	event_id    TEXT PRIMARY KEY,
	event       TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	tty         TEXT NOT NULL DEFAULT '',
	cwd         TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one accepted event. The stored status is the transition
// result; a touch-only Notification journals with an empty status.
func (s *Store) Record(ev model.Event) error {
	status, _ := model.Transition(ev.Kind, ev.InputPrompt)
	recordedAt := ev.ReceivedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
INSERT INTO events(event_id, event, session_id, tty, cwd, status, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, uuid.NewString(), string(ev.Kind), ev.SessionID, ev.TTY, ev.CWD, string(status), recordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event, session_id, tty, cwd, status, recorded_at
FROM events
ORDER BY recorded_at DESC, event_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var event, status, recordedAt string
		if err := rows.Scan(&e.EventID, &event, &e.SessionID, &e.TTY, &e.CWD, &status, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Event = model.EventKind(event)
		e.Status = model.Status(status)
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}
