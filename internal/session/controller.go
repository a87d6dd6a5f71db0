// Package session drives one chat conversation: it loads the user's history,
// appends turns optimistically, and keeps the ledger and the completion
// endpoint in step with what the user sees.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatledger/internal/completion"
	"chatledger/internal/history"
	"chatledger/internal/ledger"
)

// State of the controller
type State int

const (
	Idle State = iota
	LoadingHistory
	Ready
	Sending
	Clearing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingHistory:
		return "loading-history"
	case Ready:
		return "ready"
	case Sending:
		return "sending"
	case Clearing:
		return "clearing"
	default:
		return "unknown"
	}
}

// Ledger is the slice of ledger.Store the controller needs
type Ledger interface {
	InsertMessage(ctx context.Context, userID string, role ledger.Role, content string) error
	ListMessages(ctx context.Context, userID string) ([]ledger.Message, error)
	DeleteMessages(ctx context.Context, userID string) error
}

// Completer produces one assistant reply for a conversation
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

// Snapshot is a consistent copy of the controller's observable state
type Snapshot struct {
	State State
	Turns []history.Turn
	Input string
	Err   string
}

// Controller owns one user's in-memory conversation
type Controller struct {
	userID    string
	ledger    Ledger
	completer Completer
	history   *history.History
	log       zerolog.Logger
	now       func() time.Time
	observe   func(Snapshot)

	mu    sync.Mutex
	state State
	input string
	err   string
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock sets the clock used to timestamp local turns
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithObserver registers fn to be called with a snapshot after every state change.
// fn runs on the goroutine that caused the change and must not call back into
// the controller synchronously.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) { c.observe = fn }
}

// New creates a controller for userID in the Idle state
func New(userID string, l Ledger, comp Completer, opts ...Option) *Controller {
	c := &Controller{
		userID:    userID,
		ledger:    l,
		completer: comp,
		history:   history.New(),
		log:       zerolog.Nop(),
		now:       time.Now,
		state:     Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "session").Logger()
	return c
}

// Mount loads the stored conversation. It only acts from Idle.
// A load failure leaves the controller Ready with an empty history.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.state = LoadingHistory
	c.changed()

	msgs, err := c.ledger.ListMessages(ctx, c.userID)

	c.mu.Lock()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to load chat history")
		c.history.Reset()
	} else {
		c.history.Replace(toTurns(msgs))
		c.log.Debug().Int("turns", len(msgs)).Msg("chat history loaded")
	}
	c.state = Ready
	c.changed()
}

// SetInput records the text currently being composed
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.changed()
}

// Submit sends text as the user's next turn and waits for the reply.
// Blank text, or a controller that is not Ready, makes it a no-op.
// The user's turn stays in the history even when a later step fails.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return nil
	}
	prior := c.history.Turns()
	turn := history.Turn{
		ID:        history.NewTempID(history.AuthorUser),
		Author:    history.AuthorUser,
		Text:      text,
		CreatedAt: c.now(),
		Status:    history.StatusPending,
	}
	c.history.Append(turn)
	c.err = ""
	c.input = ""
	c.state = Sending
	c.changed()

	err := c.send(ctx, prior, turn)

	c.mu.Lock()
	c.state = Ready
	if err != nil {
		c.err = errorMessage(err)
		event := c.log.Error().Err(err)
		var serr *SendError
		if errors.As(err, &serr) {
			event = event.Str("step", string(serr.Step))
		}
		event.Msg("send failed")
	}
	c.changed()
	return err
}

// send runs one send cycle. Failures come back as a *SendError naming the step.
func (c *Controller) send(ctx context.Context, prior []history.Turn, turn history.Turn) error {
	if err := c.ledger.InsertMessage(ctx, c.userID, ledger.RoleUser, turn.Text); err != nil {
		c.history.SetStatus(turn.ID, history.StatusFailed)
		return &SendError{Step: StepSaveMessage, Err: err}
	}
	c.history.SetStatus(turn.ID, history.StatusPersisted)

	payload := make([]completion.Message, 0, len(prior)+1)
	for _, t := range prior {
		payload = append(payload, completion.Message{Role: roleOf(t.Author), Content: t.Text})
	}
	payload = append(payload, completion.Message{Role: completion.RoleUser, Content: turn.Text})

	reply, err := c.completer.Complete(ctx, payload)
	if err != nil {
		return &SendError{Step: StepComplete, Err: err}
	}

	if err := c.ledger.InsertMessage(ctx, c.userID, ledger.RoleAssistant, reply); err != nil {
		return &SendError{Step: StepSaveReply, Err: err}
	}

	c.history.Append(history.Turn{
		ID:        history.NewTempID(history.AuthorAssistant),
		Author:    history.AuthorAssistant,
		Text:      reply,
		CreatedAt: c.now(),
		Status:    history.StatusPersisted,
	})
	return nil
}

// Clear deletes the user's stored conversation and, once that succeeds,
// empties the in-memory history. It only acts from Ready.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return nil
	}
	c.err = ""
	c.state = Clearing
	c.changed()

	err := c.ledger.DeleteMessages(ctx, c.userID)

	c.mu.Lock()
	c.state = Ready
	if err != nil {
		c.err = errorMessage(err)
		c.log.Error().Err(err).Msg("failed to clear chat history")
	} else {
		c.history.Reset()
		c.log.Info().Msg("chat history cleared")
	}
	c.changed()
	return err
}

// DismissError hides the current error message
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.err = ""
	c.changed()
}

// Snapshot returns the current observable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State: c.state,
		Turns: c.history.Turns(),
		Input: c.input,
		Err:   c.err,
	}
}

// changed releases c.mu and notifies the observer.
// Callers must hold c.mu.
func (c *Controller) changed() {
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if c.observe != nil {
		c.observe(snap)
	}
}

func toTurns(msgs []ledger.Message) []history.Turn {
	turns := make([]history.Turn, 0, len(msgs))
	for _, m := range msgs {
		author := history.AuthorAssistant
		if m.Role == ledger.RoleUser {
			author = history.AuthorUser
		}
		turns = append(turns, history.Turn{
			ID:        m.ID,
			Author:    author,
			Text:      m.Content,
			CreatedAt: m.CreatedAt,
			Status:    history.StatusPersisted,
		})
	}
	return turns
}

func roleOf(a history.Author) string {
	if a == history.AuthorUser {
		return completion.RoleUser
	}
	return completion.RoleAssistant
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Failed to send message"
}
