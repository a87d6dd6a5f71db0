// Package ledger persists the chat transcript and the login ledger.
//
// A Store is keyed by the identity provider's user id, which is treated as
// an opaque string. Messages come back ordered by creation time, oldest
// first. Nothing here retries; every failure surfaces as an *Error.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Table names shared by every backend
const (
	TableChatMessages = "chat_messages"
	TableUserLogins   = "user_logins"
	TableUsers        = "users"
)

// Message is one row of the chat ledger
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_google_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginRecord is the profile captured at sign-in
type LoginRecord struct {
	GoogleID   string
	Email      string
	FullName   string
	GivenName  string
	FamilyName string
	PhotoURL   string
	IDToken    string
}

// Store is the persistence boundary used by the rest of the application
type Store interface {
	InsertMessage(ctx context.Context, userID string, role Role, content string) error
	ListMessages(ctx context.Context, userID string) ([]Message, error)
	DeleteMessages(ctx context.Context, userID string) error
	RecordLogin(ctx context.Context, rec LoginRecord) error
	Close() error
}

// Error is any failure of the backing store
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// nullable maps empty strings to NULL for optional profile columns
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
