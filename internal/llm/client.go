// Package llm is a minimal chat-completion client used by the prompt
// enhancer's critic and writer roles. It speaks the OpenAI-compatible
// chat/completions contract and shares the transient/permanent error
// taxonomy with the gen package.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
)

// maxResponseSize limits the completion response body read.
const maxResponseSize = 10 * 1024 * 1024

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Completer produces one chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Client is an HTTP Completer against a single chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a chat client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the messages and returns the assistant reply content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", gen.NewPermanentError(fmt.Errorf("at least one message is required"))
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", gen.NewPermanentError(fmt.Errorf("marshal chat request: %w", err))
	}

	url := strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", gen.NewPermanentError(fmt.Errorf("create chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("Sending chat request", "model", c.model, "messages", len(messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gen.NewTransientError(fmt.Errorf("chat request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", gen.NewTransientError(fmt.Errorf("read chat response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		err := fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", gen.NewTransientError(err)
		}
		return "", gen.NewPermanentError(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", gen.NewTransientError(fmt.Errorf("parse chat response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", gen.NewTransientError(fmt.Errorf("chat API returned no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}
