package history

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Author identifies who wrote a turn
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Status tracks whether a turn is known to be in the ledger
type Status int

const (
	StatusPending Status = iota
	StatusPersisted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPersisted:
		return "persisted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Turn represents a single message in a conversation
type Turn struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
}

const tempPrefix = "temp-"

// NewTempID returns a local identifier for a turn the ledger has not issued an id for
func NewTempID(author Author) string {
	if author == AuthorAssistant {
		return tempPrefix + "assistant-" + uuid.New().String()
	}
	return tempPrefix + uuid.New().String()
}

// IsTemporary reports whether id was produced by NewTempID
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}
