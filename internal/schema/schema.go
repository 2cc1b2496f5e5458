// Package schema declares the JSON schemas for structured model output and
// decodes completions against them, so malformed output is caught as its
// own error kind before it reaches the validator or the gateway.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/metalagman/proctor/internal/model"
)

// ErrMalformed marks model output that failed schema or shape checks.
// The loop routes it through the same bounded retry path as a validation
// rejection rather than crashing downstream logic.
var ErrMalformed = errors.New("malformed structured output")

// Schema names sent with the response_format request.
const (
	StepSchemaName     = "agent_step"
	VerdictSchemaName  = "step_verdict"
	AnalysisSchemaName = "task_analysis"
)

// StepSchema constrains one planning cycle: a knowledge summary, a bounded
// pending-work plan, a justification, and exactly one call decision.
const StepSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "current_state": { "type": "string" },
    "remaining_work": {
      "type": "array",
      "items": { "type": "string" },
      "maxItems": 5
    },
    "next_action": { "type": "string" },
    "call": {
      "type": "object",
      "properties": {
        "call_mode": { "type": "string", "enum": ["single", "batch"] },
        "function": {
          "type": "object",
          "properties": { "tool": { "type": "string" } },
          "required": ["tool"]
        },
        "functions": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": { "tool": { "type": "string" } },
            "required": ["tool"]
          },
          "minItems": 1
        }
      },
      "required": ["call_mode"]
    }
  },
  "required": ["current_state", "remaining_work", "next_action", "call"]
}`

// VerdictSchema constrains a validator response.
const VerdictSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "analysis": { "type": "string" },
    "is_valid": { "type": "boolean" },
    "rejection_message": { "type": "string" }
  },
  "required": ["analysis", "is_valid"]
}`

// AnalysisSchema constrains the optional task pre-pass output.
const AnalysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "analysis": { "type": "string" },
    "restated_task": { "type": "string", "minLength": 1 }
  },
  "required": ["restated_task"]
}`

// Analysis is the decoded task pre-pass output.
type Analysis struct {
	Analysis     string `json:"analysis"`
	RestatedTask string `json:"restated_task"`
}

// DecodeAnalysis validates raw analyzer output and decodes it.
func DecodeAnalysis(raw []byte) (*Analysis, error) {
	if err := validate(AnalysisSchema, raw); err != nil {
		return nil, err
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &a, nil
}

// DecodeStep validates raw model output against StepSchema and decodes it,
// enforcing the one-decision-per-cycle invariant: a batch never smuggles a
// respond or delegate call past the single-decision gate.
func DecodeStep(raw []byte) (*model.Step, error) {
	if err := validate(StepSchema, raw); err != nil {
		return nil, err
	}
	var step model.Step
	if err := json.Unmarshal(raw, &step); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch step.Call.Mode {
	case model.CallSingle:
		if step.Call.Function == nil {
			return nil, fmt.Errorf("%w: single call without function", ErrMalformed)
		}
	case model.CallBatch:
		if len(step.Call.Functions) == 0 {
			return nil, fmt.Errorf("%w: batch call without functions", ErrMalformed)
		}
		for _, call := range step.Call.Functions {
			if call.Tool == model.ToolRespond || call.Tool == model.ToolDelegate {
				return nil, fmt.Errorf("%w: %s is not allowed inside a batch", ErrMalformed, call.Tool)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown call_mode %q", ErrMalformed, step.Call.Mode)
	}
	if step.Kind() == model.ActionTerminal {
		if _, err := step.Respond(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if step.Kind() == model.ActionDelegate {
		if _, err := step.Delegation(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return &step, nil
}

// DecodeVerdict validates raw validator output and decodes it.
func DecodeVerdict(raw []byte) (*model.Verdict, error) {
	if err := validate(VerdictSchema, raw); err != nil {
		return nil, err
	}
	var v model.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &v, nil
}

func validate(schemaJSON string, raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(errs, "; "))
}
