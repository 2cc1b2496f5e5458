// Package erc is the typed gateway to the enterprise-simulation API. It
// dispatches validated tool calls, walks pagination, normalizes transport
// and semantic failures into observations the planner can read, and
// resolves the acting identity before a run starts.
package erc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 30 * time.Second

	// Read dispatches retry transient failures; writes never do.
	readRetries    = 2
	readRetryDelay = 100 * time.Millisecond
)

// ErrTransient marks a failure worth retrying: network errors, timeouts
// and server-side 5xx responses. Everything else is semantic and must be
// surfaced verbatim so the planner can reason about it.
var ErrTransient = errors.New("transient api failure")

// APIError is a semantic rejection from the enterprise API (permission
// denied, not found, invalid input). Never retried.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Detail)
}

// Config is the enterprise API client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client performs raw dispatches against the enterprise API. One call
// maps to one POST of the tool route with the JSON arguments as body.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs an enterprise API client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("erc base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:  Config{BaseURL: baseURL, APIKey: cfg.APIKey, Timeout: timeout},
		http: httpClient,
	}, nil
}

// Dispatch posts one tool call and returns the raw response body.
// Transport failures and 5xx responses wrap ErrTransient; 4xx responses
// come back as *APIError with the server's detail text intact.
func (c *Client) Dispatch(ctx context.Context, route string, args json.RawMessage) (json.RawMessage, error) {
	body := args
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	url := c.cfg.BaseURL + route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, route, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrTransient, route, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", ErrTransient, route, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(payload, resp.StatusCode)}
	}
	return payload, nil
}

// DispatchWithRetry dispatches a read call, retrying transient failures
// with a short delay. Semantic errors return immediately.
func (c *Client) DispatchWithRetry(ctx context.Context, route string, args json.RawMessage) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= readRetries; attempt++ {
		payload, err := c.Dispatch(ctx, route, args)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		lastErr = err
		if attempt < readRetries {
			log.Debug().Err(err).Str("route", route).Int("attempt", attempt).Msg("api call failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(readRetryDelay << attempt):
			}
		}
	}
	log.Warn().Err(lastErr).Str("route", route).Msg("api call failed after retries")
	return nil, lastErr
}

// DispatchOnce dispatches a write call without retry, where a replay
// could duplicate the mutation. Thin wrapper for explicit intent.
func (c *Client) DispatchOnce(ctx context.Context, route string, args json.RawMessage) (json.RawMessage, error) {
	return c.Dispatch(ctx, route, args)
}

func errorDetail(payload []byte, status int) string {
	var envelope struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		return text
	}
	return http.StatusText(status)
}
