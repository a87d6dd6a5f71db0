package completion

import (
	"errors"
	"fmt"
)

// Roles accepted by the completion endpoint
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message sent to the model
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ErrNoCredential is returned before any request is made when no API key is set
var ErrNoCredential = errors.New("OpenAI API key not configured. Set OPENAI_API_KEY or completion.api_key in the config file")

// Error is a failed completion call
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("OpenAI API error: %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("OpenAI request failed: %v", e.Err)
	}
	return "OpenAI request failed"
}

func (e *Error) Unwrap() error {
	return e.Err
}
