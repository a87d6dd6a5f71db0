package history

import (
	"sync"
)

// History holds one user's conversation in creation order.
// Turns are only ever appended; Reset is the single way to drop them.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// New creates an empty history
func New() *History {
	return &History{turns: []Turn{}}
}

// Replace swaps the whole sequence, keeping the order it was given in
func (h *History) Replace(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = make([]Turn, len(turns))
	copy(h.turns, turns)
}

// Append adds a turn to the end of the history
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, t)
}

// SetStatus updates the status of the turn with the given id.
// Returns false if no such turn exists.
func (h *History) SetStatus(id string, status Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.turns {
		if h.turns[i].ID == id {
			h.turns[i].Status = status
			return true
		}
	}
	return false
}

// Turns returns a copy of every turn
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Reset drops every turn
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = []Turn{}
}
