// Package openai implements the answer classifier and the optional
// question rephraser on any OpenAI-compatible chat completions API.
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pulsohq/pulso/internal/adapter/ai/tokencount"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a Client with traced transport and the configured
// classification timeout.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.ClassifyTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.NewCounter(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chat performs one chat completion call and returns the first choice
// content. No retries: callers decide their own failure policy.
func (c *Client) chat(ctx domain.Context, system, user string, maxTokens int) (string, error) {
	if c.cfg.OpenAIAPIKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY missing", domain.ErrInvalidArgument)
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.cfg.ChatModel,
		"temperature": 0.0,
		"max_tokens":  maxTokens,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("op=ai.chat.marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.OpenAIBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=ai.chat.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("op=ai.chat status=%d body=%q: %w",
			resp.StatusCode, string(snippet), domain.ErrUpstreamAI)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=ai.chat.decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=ai.chat: empty choices: %w", domain.ErrUpstreamAI)
	}
	return out.Choices[0].Message.Content, nil
}
