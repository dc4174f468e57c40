package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize caps the scoring response body read.
const maxResponseSize = 1 * 1024 * 1024

// HTTPBackend talks to a scoring service over a minimal JSON contract:
// POST {artifact, prompt, metrics} -> {scores: {metric: value}}.
type HTTPBackend struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPBackendOption configures an HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) { b.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPBackendOption {
	return func(b *HTTPBackend) { b.logger = l }
}

// NewHTTPBackend creates a scoring backend client for the given endpoint.
func NewHTTPBackend(url, apiKey string, opts ...HTTPBackendOption) *HTTPBackend {
	b := &HTTPBackend{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type scoreRequest struct {
	Artifact string   `json:"artifact"`
	Prompt   string   `json:"prompt"`
	Metrics  []string `json:"metrics,omitempty"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Score implements Backend.
func (b *HTTPBackend) Score(ctx context.Context, artifactRef string, prompt string, metrics []string) (map[string]float64, error) {
	body, err := json.Marshal(scoreRequest{Artifact: artifactRef, Prompt: prompt, Metrics: metrics})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	b.logger.Debug("Sending score request", "url", b.url, "metrics", metrics)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, fmt.Errorf("scoring API error (status %d): %s", resp.StatusCode, msg)
	}

	var parsed scoreResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse score response: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("scoring API returned no scores")
	}
	return parsed.Scores, nil
}
