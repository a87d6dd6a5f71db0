package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix nanoseconds so ORDER BY is chronological
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_google_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_google_id, created_at);

CREATE TABLE IF NOT EXISTS user_logins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	google_id TEXT NOT NULL,
	email TEXT NOT NULL,
	full_name TEXT,
	given_name TEXT,
	family_name TEXT,
	photo_url TEXT,
	id_token TEXT,
	login_timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_logins_google_id ON user_logins(google_id);

CREATE TABLE IF NOT EXISTS users (
	google_id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	full_name TEXT,
	given_name TEXT,
	family_name TEXT,
	photo_url TEXT,
	first_login_at INTEGER NOT NULL,
	last_login_at INTEGER NOT NULL,
	login_count INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER
);
`

// SQLiteStore keeps the ledger in a local SQLite file
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteStore creates or opens a ledger database at path
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger requires a path")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "ledger").Str("backend", "sqlite").Logger(),
		now: time.Now,
	}, nil
}

// InsertMessage appends a message to the chat ledger
func (s *SQLiteStore) InsertMessage(ctx context.Context, userID string, role Role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_google_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(role), content, s.now().UnixNano(),
	)
	if err != nil {
		s.log.Error().Err(err).Str("role", string(role)).Msg("failed to save message")
	}
	return wrap("failed to save message", err)
}

// ListMessages returns the user's messages, oldest first
func (s *SQLiteStore) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_google_id, role, content, created_at
		FROM chat_messages
		WHERE user_google_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch messages")
		return nil, wrap("failed to fetch messages", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg       Message
			id        int64
			role      string
			createdAt int64
		)
		if err := rows.Scan(&id, &msg.UserID, &role, &msg.Content, &createdAt); err != nil {
			return nil, wrap("failed to fetch messages", fmt.Errorf("scan chat message: %w", err))
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.Role = Role(role)
		msg.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("failed to fetch messages", err)
	}
	return messages, nil
}

// DeleteMessages removes every message of the user
func (s *SQLiteStore) DeleteMessages(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_google_id = ?`, userID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to clear chat history")
		return wrap("failed to clear chat history", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.log.Debug().Int64("deleted", n).Msg("chat history cleared")
	}
	return nil
}

// RecordLogin appends a login event and upserts the user aggregate
func (s *SQLiteStore) RecordLogin(ctx context.Context, rec LoginRecord) error {
	now := s.now().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_logins (
			google_id, email, full_name, given_name, family_name, photo_url, id_token, login_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.GoogleID, rec.Email, nullable(rec.FullName), nullable(rec.GivenName),
		nullable(rec.FamilyName), nullable(rec.PhotoURL), nullable(rec.IDToken), now)
	if err != nil {
		return wrap("failed to record login event", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (
			google_id, email, full_name, given_name, family_name, photo_url,
			first_login_at, last_login_at, login_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (google_id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			photo_url = excluded.photo_url,
			last_login_at = excluded.last_login_at,
			login_count = users.login_count + 1,
			updated_at = excluded.last_login_at
	`, rec.GoogleID, rec.Email, nullable(rec.FullName), nullable(rec.GivenName),
		nullable(rec.FamilyName), nullable(rec.PhotoURL), now, now)
	if err != nil {
		return wrap("failed to upsert user", err)
	}
	return nil
}

// LoginCount returns how many logins the aggregate row has recorded, 0 if none
func (s *SQLiteStore) LoginCount(ctx context.Context, googleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT login_count FROM users WHERE google_id = ?`, googleID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("failed to look up user", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
