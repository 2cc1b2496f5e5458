// Package model defines the shared domain types for the proctor engine:
// planner steps, proposed actions, validator verdicts and terminal results.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome classifies a terminal respond action. The set is fixed: the
// root agent must finish with exactly one of these.
type Outcome string

const (
	OutcomeAnswer        Outcome = "ok_answer"
	OutcomeNotFound      Outcome = "ok_not_found"
	OutcomeDenied        Outcome = "denied_security"
	OutcomeClarification Outcome = "none_clarification_needed"
	OutcomeUnsupported   Outcome = "none_unsupported"
	OutcomeInternalError Outcome = "error_internal"
)

// Valid reports whether o belongs to the fixed outcome vocabulary.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAnswer, OutcomeNotFound, OutcomeDenied,
		OutcomeClarification, OutcomeUnsupported, OutcomeInternalError:
		return true
	}
	return false
}

// Completed reports whether the outcome counts as a successful completion
// rather than a refusal.
func (o Outcome) Completed() bool {
	return o == OutcomeAnswer || o == OutcomeNotFound
}

// Status is the lifecycle state of a finished agent context.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRefused   Status = "refused"
	StatusFailed    Status = "failed"
)

// LinkKind enumerates the entity kinds a respond action may reference.
type LinkKind string

const (
	LinkEmployee LinkKind = "employee"
	LinkCustomer LinkKind = "customer"
	LinkProject  LinkKind = "project"
	LinkWiki     LinkKind = "wiki"
	LinkLocation LinkKind = "location"
)

// Link is a typed reference to a concrete entity mentioned in a terminal
// response. Links are omitted, never fabricated, when the id is unknown.
type Link struct {
	Kind LinkKind `json:"kind"`
	ID   string   `json:"id"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reserved tool routes interpreted by the engine rather than the gateway.
const (
	ToolRespond  = "/respond"
	ToolDelegate = "/delegate"
)

// ToolCall is one proposed invocation of a named tool. Args holds the full
// function object as produced by the planner, including the tool field, so
// the gateway can decode it into the matching typed request.
type ToolCall struct {
	Tool string
	Args json.RawMessage
}

// UnmarshalJSON keeps the raw function object while lifting the tool route.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var probe struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	c.Tool = probe.Tool
	c.Args = append(c.Args[:0], data...)
	return nil
}

// MarshalJSON emits the original function object.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	if len(c.Args) == 0 {
		return json.Marshal(struct {
			Tool string `json:"tool"`
		}{Tool: c.Tool})
	}
	return c.Args, nil
}

// CallMode discriminates the call union inside a planner step.
type CallMode string

const (
	CallSingle CallMode = "single"
	CallBatch  CallMode = "batch"
)

// Call is the tagged action variant of one planning cycle: a single
// function or an ordered batch of functions.
type Call struct {
	Mode      CallMode   `json:"call_mode"`
	Function  *ToolCall  `json:"function,omitempty"`
	Functions []ToolCall `json:"functions,omitempty"`
}

// ActionKind classifies what the engine must do with a proposed call.
type ActionKind int

const (
	ActionTool ActionKind = iota
	ActionBatch
	ActionDelegate
	ActionTerminal
)

// Step is the structured artifact an agent context produces each cycle.
type Step struct {
	CurrentState  string   `json:"current_state"`
	RemainingWork []string `json:"remaining_work"`
	NextAction    string   `json:"next_action"`
	Call          Call     `json:"call"`
}

// Kind classifies the step's proposed action. A step carries exactly one
// decision: a tool call, a batch, a delegation, or the terminal respond.
func (s *Step) Kind() ActionKind {
	if s.Call.Mode == CallBatch {
		return ActionBatch
	}
	if s.Call.Function == nil {
		return ActionTool
	}
	switch s.Call.Function.Tool {
	case ToolRespond:
		return ActionTerminal
	case ToolDelegate:
		return ActionDelegate
	}
	return ActionTool
}

// Respond decodes the step's function as a terminal respond action.
func (s *Step) Respond() (Respond, error) {
	var r Respond
	if s.Call.Function == nil {
		return r, fmt.Errorf("step has no function")
	}
	if err := json.Unmarshal(s.Call.Function.Args, &r); err != nil {
		return r, fmt.Errorf("decode respond action: %w", err)
	}
	if !r.Outcome.Valid() {
		return r, fmt.Errorf("respond action has unknown outcome %q", r.Outcome)
	}
	return r, nil
}

// Delegation decodes the step's function as a delegation action.
func (s *Step) Delegation() (Delegate, error) {
	var d Delegate
	if s.Call.Function == nil {
		return d, fmt.Errorf("step has no function")
	}
	if err := json.Unmarshal(s.Call.Function.Args, &d); err != nil {
		return d, fmt.Errorf("decode delegate action: %w", err)
	}
	if strings.TrimSpace(d.Role) == "" || strings.TrimSpace(d.Task) == "" {
		return d, fmt.Errorf("delegate action requires role and task")
	}
	return d, nil
}

// Calls returns the ordered tool calls the step proposes to execute.
func (s *Step) Calls() []ToolCall {
	if s.Call.Mode == CallBatch {
		return s.Call.Functions
	}
	if s.Call.Function != nil {
		return []ToolCall{*s.Call.Function}
	}
	return nil
}

// Respond is the terminal action payload.
type Respond struct {
	Tool    string  `json:"tool"`
	Message string  `json:"message"`
	Outcome Outcome `json:"outcome"`
	Links   []Link  `json:"links"`
}

// Delegate is the payload of a delegation action: hand Task to a child
// context running under Role.
type Delegate struct {
	Tool string `json:"tool"`
	Role string `json:"role"`
	Task string `json:"task"`
}

// Verdict is the step validator's judgement of one proposed action.
// It is ephemeral: recorded in the trace as an annotation, never written
// into the durable conversation.
type Verdict struct {
	Analysis         string `json:"analysis"`
	Valid            bool   `json:"is_valid"`
	RejectionMessage string `json:"rejection_message"`
}

// Result is the terminal result of an agent context. For the root context
// it closes the task; for a child it is merged into the parent's next
// observation as delegated work output.
type Result struct {
	Status  Status  `json:"status"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
	Links   []Link  `json:"links,omitempty"`
}

// Refusal builds a refused result with the given outcome and message.
// Used when a child context fails fatally: the parent sees a legitimate
// refusal observation, not a parent-level error.
func Refusal(outcome Outcome, message string) Result {
	return Result{Status: StatusRefused, Outcome: outcome, Message: message}
}
