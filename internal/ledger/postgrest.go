package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// RESTConfig configures the Supabase/PostgREST backend
type RESTConfig struct {
	URL     string // project URL, e.g. https://xyz.supabase.co
	APIKey  string // anon or service key
	Timeout time.Duration
}

// RESTStore talks to the ledger tables through the PostgREST API
type RESTStore struct {
	http *resty.Client
	log  zerolog.Logger
	now  func() time.Time
}

// NewRESTStore creates a Resty-backed store
func NewRESTStore(cfg RESTConfig, log zerolog.Logger) (*RESTStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgrest ledger requires a project URL")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("postgrest ledger requires an API key")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/rest/v1").
		SetHeader("apikey", cfg.APIKey).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &RESTStore{
		http: client,
		log:  log.With().Str("component", "ledger").Str("backend", "postgrest").Logger(),
		now:  time.Now,
	}, nil
}

// restError is the PostgREST error body
type restError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *restError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// restMessage decodes rows whose id may be numeric or textual
type restMessage struct {
	ID        json.RawMessage `json:"id"`
	UserID    string          `json:"user_google_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	CreatedAt restTime        `json:"created_at"`
}

// restTime accepts timestamptz and timestamp renderings
type restTime struct {
	time.Time
}

var restTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
}

func (t *restTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	var lastErr error
	for _, layout := range restTimeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// check turns transport errors and non-2xx responses into a single error
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	if pgErr, ok := resp.Error().(*restError); ok && pgErr.Message != "" {
		return pgErr
	}
	return fmt.Errorf("postgrest returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func eq(v string) string {
	return "eq." + v
}

// InsertMessage appends a message to the chat ledger
func (s *RESTStore) InsertMessage(ctx context.Context, userID string, role Role, content string) error {
	body := map[string]any{
		"user_google_id": userID,
		"role":           role,
		"content":        content,
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(body).
		SetError(&restError{}).
		Post("/" + TableChatMessages)
	if err := check(resp, err); err != nil {
		s.log.Error().Err(err).Str("role", string(role)).Msg("failed to save message")
		return wrap("failed to save message", err)
	}
	return nil
}

// ListMessages returns the user's messages, oldest first
func (s *RESTStore) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	var rows []restMessage
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":         "*",
			"user_google_id": eq(userID),
			"order":          "created_at.asc",
		}).
		SetResult(&rows).
		SetError(&restError{}).
		Get("/" + TableChatMessages)
	if err := check(resp, err); err != nil {
		s.log.Error().Err(err).Msg("failed to fetch messages")
		return nil, wrap("failed to fetch messages", err)
	}

	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, Message{
			ID:        strings.Trim(string(row.ID), `"`),
			UserID:    row.UserID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt.Time,
		})
	}
	return messages, nil
}

// DeleteMessages removes every message of the user
func (s *RESTStore) DeleteMessages(ctx context.Context, userID string) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("user_google_id", eq(userID)).
		SetError(&restError{}).
		Delete("/" + TableChatMessages)
	if err := check(resp, err); err != nil {
		s.log.Error().Err(err).Msg("failed to clear chat history")
		return wrap("failed to clear chat history", err)
	}
	return nil
}

// RecordLogin appends a login event and upserts the user aggregate
func (s *RESTStore) RecordLogin(ctx context.Context, rec LoginRecord) error {
	now := s.now().UTC().Format(time.RFC3339Nano)

	event := map[string]any{
		"google_id":       rec.GoogleID,
		"email":           rec.Email,
		"full_name":       nullable(rec.FullName),
		"given_name":      nullable(rec.GivenName),
		"family_name":     nullable(rec.FamilyName),
		"photo_url":       nullable(rec.PhotoURL),
		"id_token":        nullable(rec.IDToken),
		"login_timestamp": now,
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(event).
		SetError(&restError{}).
		Post("/" + TableUserLogins)
	if err := check(resp, err); err != nil {
		return wrap("failed to record login event", err)
	}

	var existing []struct {
		LoginCount int `json:"login_count"`
	}
	resp, err = s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":    "login_count",
			"google_id": eq(rec.GoogleID),
		}).
		SetResult(&existing).
		SetError(&restError{}).
		Get("/" + TableUsers)
	if err := check(resp, err); err != nil {
		return wrap("failed to look up user", err)
	}

	profile := map[string]any{
		"email":         rec.Email,
		"full_name":     nullable(rec.FullName),
		"given_name":    nullable(rec.GivenName),
		"family_name":   nullable(rec.FamilyName),
		"photo_url":     nullable(rec.PhotoURL),
		"last_login_at": now,
	}

	if len(existing) > 0 {
		profile["login_count"] = existing[0].LoginCount + 1
		profile["updated_at"] = now
		resp, err = s.http.R().
			SetContext(ctx).
			SetHeader("Prefer", "return=minimal").
			SetQueryParam("google_id", eq(rec.GoogleID)).
			SetBody(profile).
			SetError(&restError{}).
			Patch("/" + TableUsers)
		if err := check(resp, err); err != nil {
			return wrap("failed to update user", err)
		}
		s.log.Debug().Int("login_count", existing[0].LoginCount+1).Msg("login recorded")
		return nil
	}

	profile["google_id"] = rec.GoogleID
	profile["first_login_at"] = now
	profile["login_count"] = 1
	resp, err = s.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(profile).
		SetError(&restError{}).
		Post("/" + TableUsers)
	if err := check(resp, err); err != nil {
		return wrap("failed to create user", err)
	}
	s.log.Debug().Msg("first login recorded")
	return nil
}

// Close is a no-op for the REST backend
func (s *RESTStore) Close() error {
	return nil
}
