// Package history provides SQLite-based persistence for chat sessions and
// their messages. Messages are append-only; a session's transcript is ordered
// by created_at with insertion order breaking ties.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/chatd/internal/logger"
)

var (
	ErrNotFound       = errors.New("chat not found")
	ErrInvalidContent = errors.New("message content must not be empty")
	ErrSessionEnded   = errors.New("chat has already ended")
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
}

// Store is the SQLite-backed session and message store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, now: time.Now}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreateSession returns the session with id, creating an active,
// untitled one if it does not exist. Concurrent callers with the same id
// converge on a single row through the primary key.
func (s *Store) GetOrCreateSession(ctx context.Context, id string) (*Session, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, StatusActive, s.now().UnixNano())
	if err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sess, n > 0, nil
}

// GetSession returns ErrNotFound for unknown ids.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, created_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// SetTitle overwrites the title of an active session. It returns
// ErrSessionEnded once the session has ended.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ? AND status = ?`, title, id, StatusActive)
	if err != nil {
		return fmt.Errorf("set title %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missReason(ctx, s.db, id)
	}
	return nil
}

// Append adds a message to the end of an active session's transcript and
// returns ErrSessionEnded once the session has ended. The assigned timestamp
// is never earlier than the session's latest message, so appends cannot
// reorder existing turns even if the wall clock steps back.
func (s *Store) Append(ctx context.Context, sessionID, role, content string) (*Message, error) {
	return s.append(ctx, s.db, sessionID, StatusActive, role, content)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// append writes the message only while the session is in status want. The
// status check and the insert are one statement.
func (s *Store) append(ctx context.Context, q queryRower, sessionID string, want Status, role, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidContent
	}
	msg := &Message{SessionID: sessionID, Role: role, Content: content}
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO messages (session_id, role, content, created_at)
		SELECT ?1, ?2, ?3, MAX(?4, COALESCE((SELECT MAX(created_at) FROM messages WHERE session_id = ?1), 0))
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?1 AND status = ?5)
		RETURNING id, created_at`,
		sessionID, role, content, s.now().UnixNano(), want,
	).Scan(&msg.ID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missReason(ctx, q, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w", sessionID, err)
	}
	msg.CreatedAt = time.Unix(0, createdAt)
	return msg, nil
}

// missReason explains why a status-guarded write to id matched no row.
func missReason(ctx context.Context, q queryRower, id string) error {
	var status Status
	err := q.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status of %s: %w", id, err)
	}
	if status == StatusEnded {
		return ErrSessionEnded
	}
	return fmt.Errorf("session %s in unexpected status %q", id, status)
}

// List returns all messages of a session in chronological order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM messages
		WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EndSession marks an active session ended and appends summary as an
// assistant message, in one transaction. Neither change is visible unless
// both succeed.
func (s *Store) EndSession(ctx context.Context, id, summary string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		StatusEnded, id, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, missReason(ctx, tx, id)
	}

	msg, err := s.append(ctx, tx, id, StatusEnded, RoleAssistant, summary)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit end of %s: %w", id, err)
	}
	return msg, nil
}

// SessionsCreatedBetween lists sessions created in [from, to), newest first.
func (s *Store) SessionsCreatedBetween(ctx context.Context, from, to time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, created_at FROM sessions
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, rowid DESC`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// Transcripts returns every session that has at least one message, newest
// session first, each with its ordered messages.
func (s *Store) Transcripts(ctx context.Context) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.status, s.created_at, m.id, m.role, m.content, m.created_at
		FROM sessions s JOIN messages m ON m.session_id = s.id
		ORDER BY s.created_at DESC, s.rowid DESC, m.created_at ASC, m.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var (
			sess          Session
			title         sql.NullString
			sessAt, msgAt int64
			m             Message
		)
		if err := rows.Scan(&sess.ID, &title, &sess.Status, &sessAt, &m.ID, &m.Role, &m.Content, &msgAt); err != nil {
			return nil, err
		}
		m.SessionID = sess.ID
		m.CreatedAt = time.Unix(0, msgAt)
		if n := len(out); n == 0 || out[n-1].Session.ID != sess.ID {
			sess.Title = title.String
			sess.CreatedAt = time.Unix(0, sessAt)
			out = append(out, Transcript{Session: sess})
		}
		last := &out[len(out)-1]
		last.Messages = append(last.Messages, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		sess      Session
		title     sql.NullString
		createdAt int64
	)
	if err := r.Scan(&sess.ID, &title, &sess.Status, &createdAt); err != nil {
		return nil, err
	}
	sess.Title = title.String
	sess.CreatedAt = time.Unix(0, createdAt)
	return &sess, nil
}
