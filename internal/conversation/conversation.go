// Package conversation maintains the two views of history an agent
// context owns: a durable, append-only log of accepted cycles and an
// ephemeral retry buffer that lives only between a rejection and its
// resolution. Keeping them as separate owned values makes the
// "never persist rejections" invariant mechanically checkable.
package conversation

import (
	"fmt"
	"strings"

	"github.com/metalagman/proctor/internal/model"
)

const planPrefix = "Remaining work:"

// Log is the durable conversation of one agent context. Only accepted,
// executed cycles are ever appended; its growth is proportional to work
// done, not work attempted.
type Log struct {
	messages []model.Message
}

// NewLog starts a durable log from the initial task context.
func NewLog(initialContext string) *Log {
	return &Log{messages: []model.Message{{Role: model.RoleUser, Content: initialContext}}}
}

// Messages returns a copy of the durable history.
func (l *Log) Messages() []model.Message {
	return append([]model.Message(nil), l.messages...)
}

// Len reports the number of durable messages.
func (l *Log) Len() int { return len(l.messages) }

// SetPlan replaces the pending-work plan visible to the next cycle. Only
// the most recent plan is retained: any previous plan message is removed
// before the new one is appended, so stale plans never accumulate.
func (l *Log) SetPlan(remaining []string) {
	kept := l.messages[:0]
	for _, msg := range l.messages {
		if strings.HasPrefix(msg.Content, planPrefix) {
			continue
		}
		kept = append(kept, msg)
	}
	l.messages = kept
	if len(remaining) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString(planPrefix)
	for i, item := range remaining {
		fmt.Fprintf(&b, "\n%d. %s", i+1, item)
	}
	l.messages = append(l.messages, model.Message{Role: model.RoleUser, Content: b.String()})
}

// AppendCycle records one accepted, executed cycle as a single compacted
// assistant entry.
func (l *Log) AppendCycle(entry string) {
	l.messages = append(l.messages, model.Message{Role: model.RoleAssistant, Content: entry})
}

// AppendObservation records an observation addressed to the planner, such
// as a delegated child's terminal report.
func (l *Log) AppendObservation(text string) {
	l.messages = append(l.messages, model.Message{Role: model.RoleUser, Content: text})
}

// Retry is the throwaway feedback buffer used during a rejection-retry
// exchange. Only the single most recent rejection is visible to the next
// planning attempt; the buffer is discarded on acceptance.
type Retry struct {
	messages []model.Message
}

// Reject replaces the buffer with feedback for the latest rejected
// attempt: the rejected plan summary and the validator's message.
func (r *Retry) Reject(nextAction, rejection string) {
	r.messages = []model.Message{
		{
			Role:    model.RoleAssistant,
			Content: fmt.Sprintf("Planned step:\n%q\n\nPlan rejected by validator.", nextAction),
		},
		{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("Your plan was rejected: %s\n\nPlease revise your approach.", rejection),
		},
	}
}

// Messages returns the buffered feedback, if any.
func (r *Retry) Messages() []model.Message {
	return append([]model.Message(nil), r.messages...)
}

// Active reports whether a rejection is pending resolution.
func (r *Retry) Active() bool { return len(r.messages) > 0 }

// Reset discards the buffer after acceptance or exhaustion.
func (r *Retry) Reset() { r.messages = nil }

// View is the planner input for one cycle: the durable history followed
// by the ephemeral retry feedback, if any.
func View(log *Log, retry *Retry) []model.Message {
	out := log.Messages()
	if retry != nil {
		out = append(out, retry.Messages()...)
	}
	return out
}

// CycleEntry renders the compacted durable entry for an executed tool
// call: the planned action, the request and the response. Validator
// transcripts and rejected attempts never appear here.
func CycleEntry(nextAction, request, response string) string {
	return fmt.Sprintf("Step completed.\nAction: %s\nTool called: %s\nResponse received: %s",
		nextAction, request, response)
}

// BatchCycleEntry renders the durable entry for a batch execution.
func BatchCycleEntry(nextAction, combined string) string {
	return fmt.Sprintf("Step completed.\nAction: %s\n\n%s", nextAction, combined)
}

// DelegationEntry renders the durable entry for a dispatched delegation.
func DelegationEntry(nextAction, role, task string) string {
	return fmt.Sprintf("Planned step:\n%q\n\nDelegated to: %s\nTask: %s", nextAction, role, task)
}

// DelegateReport formats a child context's terminal result as the parent's
// next observation. The parent sees only status and report, never the
// child's internal nodes.
func DelegateReport(role string, status model.Status, report string) string {
	return fmt.Sprintf("Sub-agent: %s\nStatus: %s\nReport: %s", role, status, report)
}
