// Package llm wraps the OpenAI chat completions API for structured-output
// calls. Every planner and validator invocation in the engine goes through
// Completer, which keeps the transport concerns (auth, retries, schema
// enforcement) in one place.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/metalagman/proctor/internal/model"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultAPIKeyEnv = "OPENAI_API_KEY"
	defaultTimeout   = 120 * time.Second

	// maxAttempts bounds transport-level retries for rare API failures.
	maxAttempts = 4
	retryDelay  = 500 * time.Millisecond
)

// Config is the LLM client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Timeout   time.Duration
}

// Request is one structured-output completion request. Schema is a JSON
// schema document the response must conform to; the server enforces it and
// the caller re-validates on decode.
type Request struct {
	System     string
	Messages   []model.Message
	SchemaName string
	Schema     string
}

// Response carries the raw structured output plus side-channel data the
// trace records.
type Response struct {
	Content   json.RawMessage
	Reasoning string
	Duration  time.Duration
}

// Completer produces one structured completion per call. The loop and the
// validator depend on this interface so tests can script model behavior.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
