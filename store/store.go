// Package store is the relational session store: sessions, their message
// history, and their upload registry, persisted in a WAL-enabled SQLite
// file. Graph data lives in graphstore; this package owns conversational
// state only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a session id does not exist.
	ErrNotFound = errors.New("store: session not found")

	// ErrDuplicateUpload is returned when the same (file name, size) is
	// registered twice for one session.
	ErrDuplicateUpload = errors.New("store: duplicate upload")
)

// Session represents a row in the sessions table.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a row in the messages table. Messages are append-only:
// they are never updated or reordered.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"` // "user" or "assistant"
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Upload represents a row in the uploads table, immutable after creation.
type Upload struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	FileName  string    `json:"file_name"`
	ByteSize  int64     `json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS uploads (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    file_name TEXT NOT NULL,
    byte_size INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (session_id, file_name, byte_size)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads(session_id);
`

// Store wraps the SQLite database for all conversational persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at the given path with WAL journaling
// and initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session. An empty name gets a default.
func (s *Store) CreateSession(ctx context.Context, name string) (Session, error) {
	if strings.TrimSpace(name) == "" {
		name = "New conversation"
	}
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		sess.ID, sess.Name, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's display name and touches updated_at.
func (s *Store) RenameSession(ctx context.Context, id, name string) (Session, error) {
	if strings.TrimSpace(name) == "" {
		return Session{}, fmt.Errorf("store: empty session name")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now().UTC(), id)
	if err != nil {
		return Session{}, fmt.Errorf("renaming session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Session{}, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session and, via cascading foreign keys, its
// messages and uploads, in one transaction.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendMessage appends a message to the session's history and touches the
// session's updated_at.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string, tokenCount int) (Message, error) {
	msg := Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.TokenCount, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("appending message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", msg.CreatedAt, sessionID); err != nil {
		return Message{}, fmt.Errorf("touching session: %w", err)
	}
	return msg, tx.Commit()
}

// RecentMessages returns the most recent messages whose cumulative
// token_count fits the budget, oldest-first. At least one message is
// returned when any exist, so a single oversized message cannot starve
// the history entirely.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, tokenBudget int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, token_count, created_at
		FROM messages WHERE session_id = ?
		ORDER BY seq DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	used := 0
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if len(newestFirst) > 0 && used+m.TokenCount > tokenBudget {
			break
		}
		newestFirst = append(newestFirst, m)
		used += m.TokenCount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// History returns up to limit messages oldest-first plus the total count.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	query := `SELECT id, session_id, role, content, token_count, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		// The newest `limit` messages, still presented oldest-first.
		query = `SELECT id, session_id, role, content, token_count, created_at
			FROM (
			    SELECT seq, id, session_id, role, content, token_count, created_at
			    FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

// RecordUpload registers a file intake event. A second upload with the
// same name and size into the same session returns ErrDuplicateUpload.
func (s *Store) RecordUpload(ctx context.Context, sessionID, fileName string, byteSize int64) (Upload, error) {
	up := Upload{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		FileName:  fileName,
		ByteSize:  byteSize,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO uploads (id, session_id, file_name, byte_size, created_at) VALUES (?, ?, ?, ?, ?)",
		up.ID, up.SessionID, up.FileName, up.ByteSize, up.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Upload{}, ErrDuplicateUpload
		}
		return Upload{}, fmt.Errorf("recording upload: %w", err)
	}
	return up, nil
}

// EstimateTokens approximates the token count of text using a word-based
// heuristic: tokens ~ words * 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
