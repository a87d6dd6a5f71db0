package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id BIGSERIAL PRIMARY KEY,
	user_google_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_google_id, created_at);

CREATE TABLE IF NOT EXISTS user_logins (
	id BIGSERIAL PRIMARY KEY,
	google_id TEXT NOT NULL,
	email TEXT NOT NULL,
	full_name TEXT,
	given_name TEXT,
	family_name TEXT,
	photo_url TEXT,
	id_token TEXT,
	login_timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_logins_google_id ON user_logins(google_id);

CREATE TABLE IF NOT EXISTS users (
	google_id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	full_name TEXT,
	given_name TEXT,
	family_name TEXT,
	photo_url TEXT,
	first_login_at TIMESTAMPTZ NOT NULL,
	last_login_at TIMESTAMPTZ NOT NULL,
	login_count INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ
);
`

// PostgresStore keeps the ledger in a Postgres database reached directly
type PostgresStore struct {
	db  *pgxpool.Pool
	log zerolog.Logger
	now func() time.Time
}

// NewPostgresStore connects, pings and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres ledger requires a DSN")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStore{
		db:  pool,
		log: log.With().Str("component", "ledger").Str("backend", "postgres").Logger(),
		now: time.Now,
	}, nil
}

// InsertMessage appends a message to the chat ledger
func (s *PostgresStore) InsertMessage(ctx context.Context, userID string, role Role, content string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chat_messages (user_google_id, role, content) VALUES ($1, $2, $3)`,
		userID, string(role), content,
	)
	if err != nil {
		s.log.Error().Err(err).Str("role", string(role)).Msg("failed to save message")
	}
	return wrap("failed to save message", err)
}

// ListMessages returns the user's messages, oldest first
func (s *PostgresStore) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_google_id, role, content, created_at
		FROM chat_messages
		WHERE user_google_id = $1
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
			msg  Message
			id   int64
			role string
		)
		if err := rows.Scan(&id, &msg.UserID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, wrap("failed to fetch messages", fmt.Errorf("scan chat message: %w", err))
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.Role = Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("failed to fetch messages", err)
	}
	return messages, nil
}

// DeleteMessages removes every message of the user
func (s *PostgresStore) DeleteMessages(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_messages WHERE user_google_id = $1`, userID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to clear chat history")
		return wrap("failed to clear chat history", err)
	}
	s.log.Debug().Int64("deleted", tag.RowsAffected()).Msg("chat history cleared")
	return nil
}

// RecordLogin appends a login event and upserts the user aggregate
func (s *PostgresStore) RecordLogin(ctx context.Context, rec LoginRecord) error {
	now := s.now().UTC()

	_, err := s.db.Exec(ctx, `
		INSERT INTO user_logins (
			google_id, email, full_name, given_name, family_name, photo_url, id_token, login_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.GoogleID, rec.Email, nullable(rec.FullName), nullable(rec.GivenName),
		nullable(rec.FamilyName), nullable(rec.PhotoURL), nullable(rec.IDToken), now)
	if err != nil {
		return wrap("failed to record login event", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO users (
			google_id, email, full_name, given_name, family_name, photo_url,
			first_login_at, last_login_at, login_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)
		ON CONFLICT (google_id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			given_name = EXCLUDED.given_name,
			family_name = EXCLUDED.family_name,
			photo_url = EXCLUDED.photo_url,
			last_login_at = EXCLUDED.last_login_at,
			login_count = users.login_count + 1,
			updated_at = EXCLUDED.last_login_at
	`, rec.GoogleID, rec.Email, nullable(rec.FullName), nullable(rec.GivenName),
		nullable(rec.FamilyName), nullable(rec.PhotoURL), now)
	if err != nil {
		return wrap("failed to upsert user", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
