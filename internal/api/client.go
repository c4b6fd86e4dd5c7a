// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
)

// Configuration constants for the backend client.
const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps non-streamed response bodies and a single raw
	// streamed document. SSE and NDJSON streams are only limited per event.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "husky-cli/1.0"
)

// Error variables for common backend errors.
var (
	// ErrUnauthorized indicates a missing, invalid or expired token (401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the thread or endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the backend throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("server error")

	// ErrInvalidResponse indicates a 2xx response the client could not use.
	ErrInvalidResponse = errors.New("invalid response")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// Is lets errors.Is match 5xx responses against ErrServer.
func (e *APIError) Is(target error) bool {
	return target == ErrServer && e.Status >= 500 && e.Status < 600
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatRequest is the body of a streaming chat submission.
type ChatRequest struct {
	ThreadID    string `json:"threadId"`
	ChatID      string `json:"chatId"`
	Question    string `json:"question"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	DirectoryID string `json:"directoryId,omitempty"`
	// ChatSummary folds a seeded turn into the first real request.
	ChatSummary string `json:"chatSummary,omitempty"`

	// AuthToken is sent as a bearer token, never in the body.
	AuthToken string `json:"-"`
}

// Feedback is a user's rating of one answer.
type Feedback struct {
	ThreadID string `json:"threadId,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Rating   int    `json:"rating,omitempty"`
	Comment  string `json:"comment,omitempty"`
	Email    string `json:"email,omitempty"`
}

type threadBody struct {
	ThreadID string `json:"threadId"`
	Question string `json:"question,omitempty"`
	GuestID  string `json:"guestId,omitempty"`
}

type apiErrorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the husky backend. It is safe for concurrent use.
type Client struct {
	baseURL      string
	paths        config.BackendConfig
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	limiter      *rate.Limiter
	logger       *zap.Logger
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// NewClient creates a client from the backend config. A nil logger discards
// output.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	transport := newTransport()
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		paths:        cfg,
		httpClient:   &http.Client{Transport: transport, Timeout: timeout},
		streamClient: &http.Client{Transport: transport}, // context-controlled
		maxRetries:   maxRetries,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client for both plain and
// streaming requests. The streaming copy has its timeout cleared.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	sc := *hc
	sc.Timeout = 0
	c.streamClient = &sc
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// THREAD ENDPOINTS
// =============================================================================

// CreateThread records a new thread server-side.
func (c *Client) CreateThread(ctx context.Context, token, threadID string) (bool, error) {
	body, err := c.postJSON(ctx, c.paths.ThreadPath, token, threadBody{ThreadID: threadID})
	if err != nil {
		return false, err
	}
	return decodeSuccess(body), nil
}

// CreateTitle sets a thread's title from its first question.
func (c *Client) CreateTitle(ctx context.Context, token, threadID, question string) (bool, error) {
	body, err := c.postJSON(ctx, c.paths.TitlePath, token, threadBody{ThreadID: threadID, Question: question})
	if err != nil {
		return false, err
	}
	return decodeSuccess(body), nil
}

// DuplicateThread clones a shared thread into one owned by the caller and
// returns the new thread's ID.
func (c *Client) DuplicateThread(ctx context.Context, token, threadID, guestID string) (string, error) {
	body, err := c.postJSON(ctx, c.paths.DuplicatePath, token, threadBody{ThreadID: threadID, GuestID: guestID})
	if err != nil {
		return "", err
	}

	var resp struct {
		ThreadID string `json:"threadId"`
		Error    any    `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("%w: missing threadId", ErrInvalidResponse)
	}
	return resp.ThreadID, nil
}

// SendFeedback submits feedback captured for an answer.
func (c *Client) SendFeedback(ctx context.Context, token string, fb Feedback) error {
	_, err := c.postJSON(ctx, c.paths.FeedbackPath, token, fb)
	return err
}

// decodeSuccess reads the boolean result of a thread call. An empty body or
// one without a success flag counts as success.
func decodeSuccess(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return true
	}
	var b bool
	if err := json.Unmarshal(body, &b); err == nil {
		return b
	}
	var obj struct {
		Success *bool `json:"success"`
		Error   any   `json:"error"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if obj.Success != nil {
			return *obj.Success
		}
		return obj.Error == nil
	}
	return true
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// postJSON POSTs payload with retry and returns the response body.
// 5xx and 429 responses are retried with exponential backoff.
func (c *Client) postJSON(ctx context.Context, path, token string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doOnce(ctx, path, token, bodyBytes)
		if err == nil {
			return body, nil
		}
		if !c.isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, path, token string, bodyBytes []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := readResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// setHeaders sets common headers. The token is only ever placed in the
// Authorization header.
func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// readResponse reads a body up to MaxResponseSize.
func readResponse(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response to an error.
func handleErrorResponse(status int, body []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		if parsed.Message != "" {
			apiErr.Message = parsed.Message
		}
		if len(parsed.Error) > 0 {
			var nested struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			var flat string
			switch {
			case json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "":
				apiErr.Code, apiErr.Message = nested.Code, nested.Message
			case json.Unmarshal(parsed.Error, &flat) == nil && flat != "":
				apiErr.Message = flat
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	default:
		return apiErr
	}
}

// isRetryable reports whether err should trigger another attempt.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer)
}

// calculateBackoff returns the delay before the given attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
