// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// =============================================================================
// SCHEMA
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    timestamp  INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps sessions in a single SQLite database.
// Appends run inside a transaction, so the message sequence stays dense.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to set pragma")
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &SQLiteStore{db: db}, nil
}

// List returns session metadata, most recently updated first.
func (s *SQLiteStore) List() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	metas := []SessionMeta{}
	for rows.Next() {
		var m SessionMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &created, &updated, &m.MessageCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		m.CreatedAt = fromNanos(created)
		m.UpdatedAt = fromNanos(updated)
		metas = append(metas, m)
	}
	return metas, errors.Wrap(rows.Err(), "failed to iterate sessions")
}

// Get loads a session and its messages in order.
func (s *SQLiteStore) Get(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	return getSession(s.db, id)
}

// Create persists a new empty session. An empty title becomes DefaultTitle.
func (s *SQLiteStore) Create(title string) (*Session, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := time.Now()
	sess := &Session{ID: NewSessionID(), Title: title, CreatedAt: now, UpdatedAt: now, Messages: []Message{}}

	_, err := s.db.Exec(`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return sess, nil
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Append adds msg at the end of the transcript of id.
func (s *SQLiteStore) Append(id string, msg Message) (*Session, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return s.update(id, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO messages (session_id, seq, role, content, timestamp)
			VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?), ?, ?, ?)`,
			id, id, string(msg.Role), msg.Content, msg.Timestamp.UnixNano())
		return errors.Wrap(err, "failed to insert message")
	})
}

// SetTitle replaces the title of id.
func (s *SQLiteStore) SetTitle(id, title string) (*Session, error) {
	return s.update(id, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, id)
		return errors.Wrap(err, "failed to update title")
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *SQLiteStore) update(id string, apply func(*sql.Tx) error) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "failed to look up session")
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	if err := apply(tx); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UnixNano(), id); err != nil {
		return nil, errors.Wrap(err, "failed to touch session")
	}

	sess, err := getSession(tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit")
	}
	return sess, nil
}

type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func getSession(q querier, id string) (*Session, error) {
	var sess Session
	var created, updated int64
	err := q.QueryRow(`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)

	rows, err := q.Query(`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load messages")
	}
	defer rows.Close()

	sess.Messages = []Message{}
	for rows.Next() {
		var m Message
		var role string
		var ts int64
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Role = Role(role)
		m.Timestamp = fromNanos(ts)
		sess.Messages = append(sess.Messages, m)
	}
	return &sess, errors.Wrap(rows.Err(), "failed to iterate messages")
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}
