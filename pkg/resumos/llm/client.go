// Package llm wraps an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4

// Config configures the completion client.
type Config struct {
	// BaseURL overrides the API endpoint (e.g. a proxy or compatible provider).
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer token. Usually resolved from the keyring or env.
	APIKey string `yaml:"api_key"`

	// Model is the default chat model.
	Model string `yaml:"model"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is how many times a retryable failure (5xx, 429, overload,
	// timeout) is retried with exponential backoff.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultMaxRetries is the retry budget of DefaultConfig-based clients.
const DefaultMaxRetries = 2

// Client sends single-turn chat completions.
type Client struct {
	api        *openai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// New creates a completion client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:        openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    time.Second,
		logger:     logger.With("component", "llm"),
	}
}

// Model returns the default model.
func (c *Client) Model() string { return c.model }

// Complete sends a system and a user message and returns the first choice's
// content. Retryable failures are retried up to MaxRetries times; the last
// failure is returned as *Error.
func (c *Client) Complete(ctx context.Context, system, user, model string) (string, error) {
	if model == "" {
		model = c.model
	}

	for attempt := 0; ; attempt++ {
		out, err := c.completeOnce(ctx, system, user, model)
		if err == nil {
			return out, nil
		}

		var llmErr *Error
		if !errors.As(err, &llmErr) || !llmErr.Kind.IsRetryable() || attempt >= c.maxRetries || ctx.Err() != nil {
			return "", err
		}

		wait := c.backoff << attempt
		c.logger.Warn("llm: transient error, retrying",
			"model", model,
			"attempt", attempt+1,
			"kind", llmErr.Kind.String(),
			"wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", err
		}
	}
}

// completeOnce performs a single completion request.
func (c *Client) completeOnce(ctx context.Context, system, user, model string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		classified := classifyError(model, err)
		c.logger.Debug("llm: completion failed",
			"model", model,
			"kind", classified.Kind.String(),
			"status", classified.StatusCode,
			"duration", time.Since(start))
		return "", classified
	}
	if len(resp.Choices) == 0 {
		return "", classifyError(model, ErrEmptyResponse)
	}

	c.logger.Debug("llm: completion done",
		"model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start))

	return resp.Choices[0].Message.Content, nil
}
