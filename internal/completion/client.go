package completion

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Defaults match the hosted OpenAI chat completions API
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 1000
)

// Config holds what the client needs to reach the endpoint
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client handles communication with an OpenAI-compatible completion endpoint
type Client struct {
	api       *openai.Client
	hasKey    bool
	model     string
	maxTokens int
	log       zerolog.Logger
}

// NewClient creates a new completion client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		hasKey:    cfg.APIKey != "",
		model:     model,
		maxTokens: maxTokens,
		log:       log.With().Str("component", "completion").Logger(),
	}
}

// Complete sends the conversation and returns the first reply
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if !c.hasKey {
		return "", ErrNoCredential
	}

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens: c.maxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.log.Error().Err(err).Int("messages", len(messages)).Msg("completion request failed")
		return "", toError(err)
	}

	if len(resp.Choices) == 0 {
		c.log.Error().Str("id", resp.ID).Msg("completion response had no choices")
		return "", &Error{Message: "OpenAI response contained no reply"}
	}

	c.log.Debug().
		Str("model", resp.Model).
		Int("messages", len(messages)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("completion received")

	return resp.Choices[0].Message.Content, nil
}

// toError maps go-openai failures to the remote message when one was sent,
// otherwise to a status-derived message
func toError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	return &Error{Err: err}
}
