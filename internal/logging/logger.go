// Package logging builds the application's zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root logger and a closer for its output.
// The terminal belongs to the chat UI, so logs go to path unless verbose
// is set, in which case they go to stderr in console format.
func New(level, path string, verbose bool) (zerolog.Logger, io.Closer, error) {
	var out io.Writer
	closer := io.Closer(nopCloser{})

	if verbose {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Str("service", "chatledger").
		Logger().
		Level(ParseLevel(level))
	return logger, closer, nil
}

// ParseLevel falls back to info for empty or unknown levels
func ParseLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
