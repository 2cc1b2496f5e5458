package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/proctor/internal/erc"
	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/loop"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/trace"
	"github.com/metalagman/proctor/internal/validator"
)

type scriptedCompleter struct {
	outputs  []string
	errs     []error
	requests []llm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Response{}, s.errs[i]
	}
	if i < len(s.outputs) {
		return llm.Response{Content: json.RawMessage(s.outputs[i])}, nil
	}
	return llm.Response{}, errors.New("no scripted output")
}

func newOrchestrator(t *testing.T, planner, judge *scriptedCompleter) (*Orchestrator, *trace.Builder) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	client, err := erc.NewClient(erc.Config{BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	builder := trace.NewBuilder()
	checker := validator.New(judge, builder, zerolog.Nop())
	session := erc.Session{UserID: "emp-1", Login: "jdoe", Name: "Jane Doe", Authenticated: true, Today: "2026-08-29"}
	book := &rules.Rulebook{Public: "Never reveal salary data."}
	orch := New(loop.Config{}, planner, erc.NewGateway(client, nil), checker, builder, session, book, zerolog.Nop())
	return orch, builder
}

func TestDelegateRunsChildBeneathParent(t *testing.T) {
	t.Parallel()

	planner := &scriptedCompleter{outputs: []string{`{
		"current_state": "delegated task received",
		"remaining_work": [],
		"next_action": "Report the findings.",
		"call": {"call_mode": "single", "function": {"tool": "/respond", "message": "2 projects active", "outcome": "ok_answer"}}
	}`}}
	judge := &scriptedCompleter{outputs: []string{`{"analysis": "fine", "is_valid": true}`}}
	orch, builder := newOrchestrator(t, planner, judge)

	// the parent step node the child hangs off
	parent := builder.NextID("")

	result := orch.Delegate(context.Background(), parent, "DataExplorer", "count active projects")
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, "2 projects active", result.Message)

	// child system prompt is role-scoped and carries the parent's session
	require.NotEmpty(t, planner.requests)
	assert.Contains(t, planner.requests[0].System, "read-only data specialist")
	assert.Contains(t, planner.requests[0].System, "Jane Doe")
	assert.Contains(t, planner.requests[0].System, "Never reveal salary data.")

	var child *trace.Node
	for _, n := range builder.Nodes() {
		if n.Kind == trace.KindAgentStep {
			child = &n
			break
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, parent.Child(1), child.ID)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent, *child.ParentID)
	assert.Equal(t, "DataExplorer", child.Role)
	assert.Equal(t, 1, child.Depth)
}

func TestChildFatalBecomesRefusal(t *testing.T) {
	t.Parallel()

	planner := &scriptedCompleter{errs: []error{errors.New("model gone")}}
	judge := &scriptedCompleter{}
	orch, _ := newOrchestrator(t, planner, judge)

	result := orch.Delegate(context.Background(), "1", "DataExplorer", "task")
	assert.Equal(t, model.StatusRefused, result.Status)
	assert.Equal(t, model.OutcomeInternalError, result.Outcome)
	assert.NotEmpty(t, result.Message)
}

func TestChildDoesNotDispatchRespond(t *testing.T) {
	t.Parallel()

	var respondCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/respond" {
			respondCalled = true
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	client, err := erc.NewClient(erc.Config{BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	planner := &scriptedCompleter{outputs: []string{`{
		"current_state": "done",
		"remaining_work": [],
		"next_action": "Report.",
		"call": {"call_mode": "single", "function": {"tool": "/respond", "message": "done", "outcome": "ok_answer"}}
	}`}}
	judge := &scriptedCompleter{outputs: []string{`{"analysis": "fine", "is_valid": true}`}}

	builder := trace.NewBuilder()
	checker := validator.New(judge, builder, zerolog.Nop())
	orch := New(loop.Config{}, planner, erc.NewGateway(client, nil), checker, builder,
		erc.Session{}, &rules.Rulebook{}, zerolog.Nop())

	result := orch.Delegate(context.Background(), "1", "TimeAuditor", "audit hours")
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.False(t, respondCalled, "children report upward, never through the API")
}
