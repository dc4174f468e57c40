package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseSize caps the generation response body read.
const maxResponseSize = 4 * 1024 * 1024

// HTTPBackend speaks a minimal JSON contract with a generation service:
// POST {kind, prompt, reference} -> {ref, model}. Requests are rate limited
// client-side to respect backend quotas, and each call carries its own
// timeout so one slow generation cannot exceed the per-call budget.
type HTTPBackend struct {
	url         string
	apiKey      string
	callTimeout time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// HTTPBackendOption configures an HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) { b.httpClient = c }
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) HTTPBackendOption {
	return func(b *HTTPBackend) { b.callTimeout = d }
}

// WithRateLimit caps outgoing request rate (requests per second with burst).
func WithRateLimit(rps float64, burst int) HTTPBackendOption {
	return func(b *HTTPBackend) { b.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPBackendOption {
	return func(b *HTTPBackend) { b.logger = l }
}

// NewHTTPBackend creates a generation backend client for the given endpoint.
func NewHTTPBackend(url, apiKey string, opts ...HTTPBackendOption) *HTTPBackend {
	b := &HTTPBackend{
		url:         url,
		apiKey:      apiKey,
		callTimeout: 5 * time.Minute, // video generation can be slow
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(rate.Limit(2), 4),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type generateRequest struct {
	Kind      Kind   `json:"kind"`
	Prompt    string `json:"prompt"`
	Reference string `json:"reference,omitempty"`
}

type generateResponse struct {
	Ref   string `json:"ref"`
	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if req.Prompt == "" {
		return nil, NewPermanentError(fmt.Errorf("prompt is required"))
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, NewTransientError(fmt.Errorf("rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Kind:      req.Kind,
		Prompt:    req.Prompt,
		Reference: req.ReferenceArtifact,
	})
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("marshal generate request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("create generate request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	b.logger.Debug("Sending generate request",
		"url", b.url,
		"kind", req.Kind,
		"reference", req.ReferenceArtifact != "")

	start := time.Now()
	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		// Network failures and per-call timeouts are transient.
		return nil, NewTransientError(fmt.Errorf("generate request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read generate response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewTransientError(fmt.Errorf("parse generate response: %w", err))
	}
	if parsed.Ref == "" {
		return nil, NewPermanentError(fmt.Errorf("generation API returned no artifact ref (error: %s)", parsed.Error))
	}

	b.logger.Debug("Generation finished",
		"kind", req.Kind,
		"model", parsed.Model,
		"duration", time.Since(start).Round(time.Millisecond))

	return &Artifact{Ref: parsed.Ref, Kind: req.Kind, Model: parsed.Model}, nil
}

// classifyHTTPError maps HTTP status codes onto the transient/permanent taxonomy.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("generation API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewPermanentError(err)
	case statusCode == http.StatusUnprocessableEntity:
		// Content policy rejection.
		return NewPermanentError(err)
	default:
		return NewPermanentError(err)
	}
}
