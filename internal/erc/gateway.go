package erc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/trace"
)

// RespondRulesFunc serves the audience-scoped response-formatting rules for
// the /load-respond-instructions tool. Supplied per task by the runner.
type RespondRulesFunc func(ctx context.Context) (string, error)

// Observation is the planner-readable outcome of executing a validated
// action: formatted text for the conversation plus the request/response
// pairs the trace records.
type Observation struct {
	Text    string
	Records []trace.ToolCallRecord
}

// Gateway executes validated tool calls against the enterprise API.
// Failures never escape as engine errors: transient exhaustion and
// semantic rejections both become error observations for the planner.
type Gateway struct {
	client       *Client
	respondRules RespondRulesFunc
}

// NewGateway wraps a client for call execution.
func NewGateway(client *Client, respondRules RespondRulesFunc) *Gateway {
	return &Gateway{client: client, respondRules: respondRules}
}

// Execute dispatches the proposed calls in order and merges their results
// into one observation. Only context cancellation returns an error.
func (g *Gateway) Execute(ctx context.Context, calls []model.ToolCall) (Observation, error) {
	var obs Observation
	texts := make([]string, 0, len(calls))
	for _, call := range calls {
		single, err := g.executeOne(ctx, call)
		if err != nil {
			return Observation{}, err
		}
		texts = append(texts, single.Text)
		obs.Records = append(obs.Records, single.Records...)
	}
	obs.Text = strings.Join(texts, "\n\n")
	return obs, nil
}

func (g *Gateway) executeOne(ctx context.Context, call model.ToolCall) (Observation, error) {
	if call.Tool == RouteLoadRespondInstructions {
		return g.loadRespondInstructions(ctx)
	}

	spec, ok := routes[call.Tool]
	if !ok {
		response := errorJSON(fmt.Sprintf("unknown tool %q", call.Tool))
		return Observation{
			Text:    string(response),
			Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: response}},
		}, nil
	}

	if spec.paginated {
		return g.executePaginated(ctx, call, spec)
	}

	args, err := stripTool(call.Args)
	if err != nil {
		response := errorJSON(err.Error())
		return Observation{
			Text:    string(response),
			Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: response}},
		}, nil
	}

	var payload json.RawMessage
	if spec.write {
		payload, err = g.client.DispatchOnce(ctx, call.Tool, args)
	} else {
		payload, err = g.client.DispatchWithRetry(ctx, call.Tool, args)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Observation{}, ctx.Err()
		}
		response := normalizeError(err)
		return Observation{
			Text:    string(response),
			Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: response}},
		}, nil
	}
	return Observation{
		Text:    string(payload),
		Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: payload}},
	}, nil
}

func (g *Gateway) executePaginated(ctx context.Context, call model.ToolCall, spec routeSpec) (Observation, error) {
	args, err := stripTool(call.Args)
	if err != nil {
		response := errorJSON(err.Error())
		return Observation{
			Text:    string(response),
			Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: response}},
		}, nil
	}
	result := g.client.paginate(ctx, call.Tool, args, spec.itemsKey)
	if ctx.Err() != nil {
		return Observation{}, ctx.Err()
	}

	response := map[string]any{spec.itemsKey: rawSlice(result.Items)}
	if !result.Complete && len(result.Errors) > 0 {
		response["error"] = "Incomplete: " + result.Errors[0]
	}
	encoded, merr := json.MarshalIndent(response, "", "  ")
	if merr != nil {
		encoded = errorJSON(merr.Error())
	}
	record := map[string]any{"count": len(result.Items), "complete": result.Complete}
	recorded, _ := json.Marshal(record)
	return Observation{
		Text:    string(encoded),
		Records: []trace.ToolCallRecord{{Request: requestJSON(call), Response: recorded}},
	}, nil
}

func (g *Gateway) loadRespondInstructions(ctx context.Context) (Observation, error) {
	rules := ""
	if g.respondRules != nil {
		loaded, err := g.respondRules(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Observation{}, ctx.Err()
			}
		} else {
			rules = loaded
		}
	}
	text := rules
	if text == "" {
		text = "(No respond instructions found)"
	}
	recorded, _ := json.Marshal(map[string]bool{"loaded": rules != ""})
	return Observation{
		Text:    "<respond_instructions>\n" + text + "\n</respond_instructions>",
		Records: []trace.ToolCallRecord{{Request: json.RawMessage(`{}`), Response: recorded}},
	}, nil
}

// normalizeError maps a dispatch failure to a planner-readable error body.
// Semantic details pass through verbatim; transport failures carry the
// wrapped description after retries exhausted.
func normalizeError(err error) json.RawMessage {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return errorJSON(apiErr.Detail)
	}
	return errorJSON(err.Error())
}

func errorJSON(detail string) json.RawMessage {
	encoded, _ := json.Marshal(map[string]string{"error": detail})
	return encoded
}

func requestJSON(call model.ToolCall) json.RawMessage {
	if len(call.Args) > 0 {
		return call.Args
	}
	encoded, _ := json.Marshal(map[string]string{"tool": call.Tool})
	return encoded
}

func stripTool(args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`{}`), nil
	}
	params := map[string]any{}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("decode call args: %w", err)
	}
	delete(params, "tool")
	out, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode call args: %w", err)
	}
	return out, nil
}

func rawSlice(items []json.RawMessage) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		var v any
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
			continue
		}
		out = append(out, string(item))
	}
	return out
}
