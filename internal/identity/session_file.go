package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// storedSession is what survives between runs
type storedSession struct {
	Identity UserIdentity  `json:"identity"`
	Token    *oauth2.Token `json:"token,omitempty"`
	SavedAt  time.Time     `json:"saved_at"`
}

// SessionFile persists the signed-in session on disk
type SessionFile struct {
	path string
	mu   sync.Mutex
}

// NewSessionFile creates a session file handle; nothing is read until Load
func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Load returns the stored session, or nil if there is none
func (f *SessionFile) Load() (*storedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s storedSession
	if err := json.Unmarshal(data, &s); err != nil {
		// Corrupted file - treat as signed out
		return nil, nil
	}
	if s.Identity.ID == "" {
		return nil, nil
	}
	return &s, nil
}

// Save writes the session atomically with owner-only permissions
func (f *SessionFile) Save(s storedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Remove deletes the session; removing a missing session is not an error
func (f *SessionFile) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
