package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"
)

// Client is a Completer backed by the OpenAI chat completions API.
type Client struct {
	cfg    Config
	client openai.Client
}

var _ Completer = (*Client)(nil)

// NewClient constructs an OpenAI-backed completer.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		return nil, fmt.Errorf("llm model is required")
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required (set api_key or api_key_env)")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{
		cfg: Config{
			Model:   modelName,
			BaseURL: baseURL,
			Timeout: timeout,
		},
		client: openai.NewClient(opts...),
	}, nil
}

// Complete executes one structured-output chat completion. Transport
// failures retry up to maxAttempts; the last error propagates.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return Response{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			resp, perr := parseCompletion(completion)
			if perr == nil {
				resp.Duration = time.Since(start)
				return resp, nil
			}
			err = perr
		}
		lastErr = err
		if attempt < maxAttempts {
			log.Warn().Err(err).Int("attempt", attempt).Msg("llm call failed, retrying")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return Response{}, fmt.Errorf("llm completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.Model),
		Messages: messages,
	}

	if req.Schema != "" {
		var schemaDoc any
		if err := json.Unmarshal([]byte(req.Schema), &schemaDoc); err != nil {
			return params, fmt.Errorf("parse response schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: schemaDoc,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params, nil
}

func parseCompletion(completion *openai.ChatCompletion) (Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("llm response contained no choices")
	}
	message := completion.Choices[0].Message
	content := strings.TrimSpace(message.Content)
	if content == "" {
		return Response{}, fmt.Errorf("llm response contained no content")
	}
	resp := Response{Content: json.RawMessage(content)}

	// Some providers attach chain-of-thought as a non-standard field.
	if field, ok := message.JSON.ExtraFields["reasoning"]; ok {
		var reasoning string
		if err := json.Unmarshal([]byte(field.Raw()), &reasoning); err == nil {
			resp.Reasoning = reasoning
		}
	}
	return resp, nil
}
