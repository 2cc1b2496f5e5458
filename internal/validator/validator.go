// Package validator implements the pre-execution gate. Every proposed
// step is checked against the agent's own system prompt and conversation
// before any side effect happens; the verdict is recorded as a trace
// annotation whether it passes or not.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/schema"
	"github.com/metalagman/proctor/internal/trace"
)

// Scope restricts which proposed steps a validator reviews. A zero Scope
// reviews everything. Otherwise a step is reviewed when the context role
// matches Roles (empty means any role) and at least one proposed tool
// matches Tools (empty means any tool).
type Scope struct {
	Roles []string
	Tools []string
}

// Applies reports whether a step with the given role and proposed tools
// falls under the scope.
func (s Scope) Applies(role string, tools []string) bool {
	if len(s.Roles) > 0 && !contains(s.Roles, role) {
		return false
	}
	if len(s.Tools) == 0 {
		return true
	}
	for _, t := range tools {
		if contains(s.Tools, t) {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Validator checks proposed steps with a separate model call. It never
// mutates the agent's conversation; its whole transcript lives in the
// trace annotation it records.
type Validator struct {
	completer llm.Completer
	builder   *trace.Builder
	scope     Scope
	log       zerolog.Logger
}

// New returns a validator recording annotations into builder. It reviews
// every step; use NewScoped to restrict it to specific roles or tools.
func New(completer llm.Completer, builder *trace.Builder, log zerolog.Logger) *Validator {
	return NewScoped(completer, builder, Scope{}, log)
}

// NewScoped returns a validator restricted to the given scope.
func NewScoped(completer llm.Completer, builder *trace.Builder, scope Scope, log zerolog.Logger) *Validator {
	return &Validator{completer: completer, builder: builder, scope: scope, log: log}
}

// Applies reports whether the validator reviews steps with the given
// role and proposed tools. Out-of-scope steps execute without a verdict
// or annotation.
func (v *Validator) Applies(role string, tools []string) bool {
	return v.scope.Applies(role, tools)
}

// Decision is the outcome of one validation attempt.
type Decision struct {
	Valid     bool
	Rejection string
}

// Check validates one proposed step. The subject is the trace node id the
// attempt is being validated for; the annotation is allocated beneath it.
// Validator transport failure fails open: execution is not blocked by an
// unavailable validator, and the failure is recorded in the annotation.
// Only context cancellation is returned as an error.
func (v *Validator) Check(ctx context.Context, subject trace.NodeID, agentSystem string, convo []model.Message, stepRaw json.RawMessage) (Decision, error) {
	input := []model.Message{{Role: model.RoleUser, Content: renderReview(agentSystem, convo, stepRaw)}}

	resp, err := v.completer.Complete(ctx, llm.Request{
		System:     rules.ValidatorPrompt(),
		Messages:   input,
		SchemaName: schema.VerdictSchemaName,
		Schema:     schema.VerdictSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		v.log.Warn().Err(err).Str("subject", string(subject)).Msg("validator unavailable, step not blocked")
		v.record(subject, true, input, errorOutput(err), "", 0)
		return Decision{Valid: true}, nil
	}

	verdict, err := schema.DecodeVerdict(resp.Content)
	if err != nil {
		v.log.Warn().Err(err).Str("subject", string(subject)).Msg("unreadable verdict, step not blocked")
		v.record(subject, true, input, resp.Content, resp.Reasoning, resp.Duration)
		return Decision{Valid: true}, nil
	}

	v.record(subject, verdict.Valid, input, resp.Content, resp.Reasoning, resp.Duration)
	if verdict.Valid {
		return Decision{Valid: true}, nil
	}
	return Decision{Valid: false, Rejection: verdict.RejectionMessage}, nil
}

func (v *Validator) record(subject trace.NodeID, passed bool, input []model.Message, output json.RawMessage, reasoning string, d time.Duration) {
	v.builder.RecordAnnotation(trace.AnnotationInput{
		Validates:     subject,
		Role:          rules.RoleValidator,
		Passed:        passed,
		SystemPrompt:  rules.ValidatorPrompt(),
		InputMessages: input,
		Output:        output,
		Reasoning:     reasoning,
		TimingSec:     d.Seconds(),
	})
}

// renderReview assembles the single review document the validator sees:
// the agent's authoritative instructions, its conversation so far, and the
// raw proposed step.
func renderReview(agentSystem string, convo []model.Message, stepRaw json.RawMessage) string {
	var b strings.Builder
	b.WriteString("# AGENT SYSTEM PROMPT\n\n")
	b.WriteString(agentSystem)
	b.WriteString("\n\n# CONVERSATION\n\n")
	for _, msg := range convo {
		fmt.Fprintf(&b, "[%s]: %s\n\n", msg.Role, msg.Content)
	}
	b.WriteString("# PROPOSED NEXT STEP\n\n")
	b.Write(stepRaw)
	return b.String()
}

func errorOutput(err error) json.RawMessage {
	out, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return json.RawMessage(`{"error":"validator call failed"}`)
	}
	return out
}
