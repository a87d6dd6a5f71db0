package ui

import (
	"fmt"
	"sync"
	"time"

	"chatledger/internal/history"
	"chatledger/internal/session"
	"chatledger/internal/terminal"
)

// ChatScreen turns controller snapshots into terminal output.
// Each turn is printed once; a shrinking history means it was cleared.
// A user turn drawn while still pending gets a marker if saving it fails.
type ChatScreen struct {
	display *Display
	spinner *terminal.Spinner
	now     func() time.Time

	mu        sync.Mutex
	state     session.State
	shown     int
	lastErr   string
	sendStart time.Time
	pending   string // ID of the user turn drawn before it was saved
}

// NewChatScreen creates a chat screen drawing on d
func NewChatScreen(d *Display) *ChatScreen {
	return &ChatScreen{
		display: d,
		spinner: terminal.NewSpinner(d.out),
		now:     time.Now,
	}
}

// Render draws whatever changed since the previous snapshot
func (c *ChatScreen) Render(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	c.state = s.State
	busy := s.State == session.LoadingHistory || s.State == session.Sending || s.State == session.Clearing

	if !busy {
		c.spinner.Stop()
	}

	if len(s.Turns) < c.shown {
		c.shown = 0
		if len(s.Turns) == 0 {
			c.display.PrintEmptyState()
		}
	}
	if c.pending != "" {
		c.settle(s.Turns)
	}
	for _, t := range s.Turns[c.shown:] {
		c.display.PrintTurn(t)
		if t.Author == history.AuthorUser && t.Status == history.StatusPending {
			c.pending = t.ID
		}
	}
	replied := len(s.Turns) > c.shown && prev == session.Sending && s.State == session.Ready && s.Err == ""
	c.shown = len(s.Turns)

	if prev == session.LoadingHistory && s.State == session.Ready && len(s.Turns) == 0 {
		c.display.PrintEmptyState()
	}
	if replied {
		fmt.Fprintf(c.display.out, "%s⏱ %s%s\n", colorGray, formatDuration(c.now().Sub(c.sendStart)), colorReset)
	}

	if s.Err != c.lastErr {
		c.lastErr = s.Err
		if s.Err != "" {
			c.display.PrintError(s.Err)
		}
	}

	if busy && prev != s.State {
		switch s.State {
		case session.LoadingHistory:
			c.spinner.Start("Loading...")
		case session.Sending:
			c.sendStart = c.now()
			c.spinner.Start("AI is thinking...")
		case session.Clearing:
			c.spinner.Start("Clearing chat history...")
		}
	}
}

// settle warns once if the pending user turn failed to save
func (c *ChatScreen) settle(turns []history.Turn) {
	for _, t := range turns {
		if t.ID != c.pending {
			continue
		}
		if t.Status == history.StatusPending {
			return
		}
		if t.Status == history.StatusFailed {
			c.display.PrintWarning("Message not saved")
		}
		break
	}
	c.pending = ""
}

// Close stops any running spinner
func (c *ChatScreen) Close() {
	c.spinner.Stop()
}
