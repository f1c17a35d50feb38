// Package opencodedb reads OpenCode's session store. Access is strictly
// read-only: the database belongs to a running OpenCode process.
package opencodedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSession is returned when the store has no sessions yet.
var ErrNoSession = errors.New("opencodedb: no sessions")

// DB wraps one OpenCode database file.
type DB struct {
	db   *sql.DB
	path string
}

// Session is a row of the sessions table.
type Session struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// Message is a row of the messages table. Parts is the raw JSON array of
// typed parts; FinishedAt is zero while the message is still streaming.
type Message struct {
	ID         string
	Role       string
	Parts      json.RawMessage
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Open opens path read-only. A locked database waits up to busyTimeout.
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opencodedb: open: %w", err)
	}
	// One connection keeps the PRAGMAs below in effect for every query.
	db.SetMaxOpenConns(1)

	if busyTimeout <= 0 {
		busyTimeout = time.Second
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("opencodedb: busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA query_only=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("opencodedb: query only: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the file this DB was opened from.
func (d *DB) Path() string {
	return d.path
}

// LatestSession returns the most recently updated top-level session.
func (d *DB) LatestSession(ctx context.Context) (Session, error) {
	var (
		s       Session
		updated int64
	)
	row := d.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(title, ''), updated_at FROM sessions
		WHERE parent_session_id IS NULL OR parent_session_id = ''
		ORDER BY updated_at DESC LIMIT 1`)
	err := row.Scan(&s.ID, &s.Title, &updated)
	if err != nil && isMissingColumn(err) {
		row = d.db.QueryRowContext(ctx,
			`SELECT id, COALESCE(title, ''), updated_at FROM sessions ORDER BY updated_at DESC LIMIT 1`)
		err = row.Scan(&s.ID, &s.Title, &updated)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("opencodedb: latest session: %w", err)
	}
	s.UpdatedAt = FromEpoch(updated)
	return s, nil
}

// RecentMessages returns up to limit messages of sessionID, oldest first.
func (d *DB) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, role, COALESCE(parts, '[]'), created_at, finished_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("opencodedb: recent messages: %w", err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var (
			m        Message
			parts    string
			created  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Role, &parts, &created, &finished); err != nil {
			return nil, fmt.Errorf("opencodedb: scan message: %w", err)
		}
		m.Parts = json.RawMessage(parts)
		m.CreatedAt = FromEpoch(created)
		if finished.Valid && finished.Int64 > 0 {
			m.FinishedAt = FromEpoch(finished.Int64)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("opencodedb: recent messages: %w", err)
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// ActiveChildSessions counts sessions spawned by parentID that were updated
// at or after since. Stores without parent tracking report zero.
func (d *DB) ActiveChildSessions(ctx context.Context, parentID string, since time.Time) (int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT updated_at FROM sessions WHERE parent_session_id = ?`, parentID)
	if err != nil {
		if isMissingColumn(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opencodedb: child sessions: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var updated int64
		if err := rows.Scan(&updated); err != nil {
			return 0, fmt.Errorf("opencodedb: scan child session: %w", err)
		}
		if !FromEpoch(updated).Before(since) {
			count++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("opencodedb: child sessions: %w", err)
	}
	return count, nil
}

// FromEpoch converts a stored timestamp to time. OpenCode has written both
// seconds and milliseconds; values past 1e12 are taken as milliseconds.
func FromEpoch(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

func isMissingColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such column")
}
