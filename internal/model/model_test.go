package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ActionKind
	}{
		{
			name: "single tool call",
			raw:  `{"call_mode":"single","function":{"tool":"/employees/get","id":"emp-1"}}`,
			want: ActionTool,
		},
		{
			name: "batch",
			raw:  `{"call_mode":"batch","functions":[{"tool":"/employees/get","id":"emp-1"},{"tool":"/projects/get","id":"prj-2"}]}`,
			want: ActionBatch,
		},
		{
			name: "delegation",
			raw:  `{"call_mode":"single","function":{"tool":"/delegate","role":"DataExplorer","task":"list open projects"}}`,
			want: ActionDelegate,
		},
		{
			name: "terminal respond",
			raw:  `{"call_mode":"single","function":{"tool":"/respond","message":"done","outcome":"ok_answer"}}`,
			want: ActionTerminal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var call Call
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &call))
			step := Step{Call: call}
			assert.Equal(t, tt.want, step.Kind())
		})
	}
}

func TestToolCallKeepsRawArgs(t *testing.T) {
	t.Parallel()

	raw := `{"tool":"/employees/update","id":"emp-7","city":"Berlin"}`
	var call ToolCall
	require.NoError(t, json.Unmarshal([]byte(raw), &call))
	assert.Equal(t, "/employees/update", call.Tool)
	assert.JSONEq(t, raw, string(call.Args))

	out, err := json.Marshal(call)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestRespondRejectsUnknownOutcome(t *testing.T) {
	t.Parallel()

	var call Call
	require.NoError(t, json.Unmarshal(
		[]byte(`{"call_mode":"single","function":{"tool":"/respond","message":"x","outcome":"ok_maybe"}}`), &call))
	step := Step{Call: call}
	_, err := step.Respond()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outcome")
}

func TestDelegationRequiresRoleAndTask(t *testing.T) {
	t.Parallel()

	var call Call
	require.NoError(t, json.Unmarshal(
		[]byte(`{"call_mode":"single","function":{"tool":"/delegate","role":"","task":"  "}}`), &call))
	step := Step{Call: call}
	_, err := step.Delegation()
	require.Error(t, err)
}

func TestOutcomeVocabulary(t *testing.T) {
	t.Parallel()

	for _, o := range []Outcome{OutcomeAnswer, OutcomeNotFound, OutcomeDenied,
		OutcomeClarification, OutcomeUnsupported, OutcomeInternalError} {
		assert.True(t, o.Valid(), string(o))
	}
	assert.False(t, Outcome("ok_partial").Valid())

	assert.True(t, OutcomeAnswer.Completed())
	assert.True(t, OutcomeNotFound.Completed())
	assert.False(t, OutcomeDenied.Completed())
	assert.False(t, OutcomeInternalError.Completed())
}

func TestStepCalls(t *testing.T) {
	t.Parallel()

	var call Call
	require.NoError(t, json.Unmarshal(
		[]byte(`{"call_mode":"batch","functions":[{"tool":"/wiki/load","path":"/handbook"},{"tool":"/time/get","id":"t-1"}]}`), &call))
	step := Step{Call: call}
	calls := step.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/wiki/load", calls[0].Tool)
	assert.Equal(t, "/time/get", calls[1].Tool)
}
