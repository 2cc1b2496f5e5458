package tracestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/trace"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func sampleTrace() []trace.Node {
	b := trace.NewBuilder()
	s1 := b.RecordStep(trace.StepInput{
		ID: b.NextID(""), Role: "Agent", Reasoning: "look first",
		Output: json.RawMessage(`{"next_action":"fetch"}`),
	})
	b.RecordAnnotation(trace.AnnotationInput{
		Validates: s1.ID, Role: "StepValidator", Passed: true,
		Output: json.RawMessage(`{"is_valid":true}`),
	})
	b.RecordStep(trace.StepInput{
		ID: b.NextID(""), PrevSibling: s1.ID, Role: "Agent",
		Output: json.RawMessage(`{"next_action":"respond"}`),
	})
	return b.Nodes()
}

func TestRunLifecycleRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-1", "who is emp-1?", "jdoe"))

	rec, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "running", rec.Status)
	assert.Equal(t, "jdoe", rec.Login)

	nodes := sampleTrace()
	result := model.Result{
		Status:  model.StatusCompleted,
		Outcome: model.OutcomeAnswer,
		Message: "Jane Doe works here.",
		Links:   []model.Link{{Kind: model.LinkEmployee, ID: "emp-1"}},
	}
	require.NoError(t, store.FinishRun(ctx, "run-1", result, nodes))

	rec, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "ok_answer", rec.Outcome)
	assert.Equal(t, len(nodes), rec.NodeCount)
	require.Len(t, rec.Links, 1)
	assert.Equal(t, model.LinkEmployee, rec.Links[0].Kind)
	assert.NotEmpty(t, rec.EndedAt)
}

func TestTraceRoundTripPreservesStructure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-1", "task", ""))
	nodes := sampleTrace()
	require.NoError(t, store.FinishRun(ctx, "run-1", model.Result{
		Status: model.StatusCompleted, Outcome: model.OutcomeAnswer,
	}, nodes))

	loaded, err := store.LoadTrace(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded, len(nodes))
	assert.Equal(t, nodes, loaded)

	tree, err := trace.Rebuild(loaded)
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	require.NotNil(t, tree.Roots[0].Next)
	assert.Len(t, tree.Roots[0].Annotations, 1)
}

func TestGetRunMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.CreateRun(ctx, id, "task "+id, ""))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
}

func TestPruneRunsCascades(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.CreateRun(ctx, id, "task", ""))
		require.NoError(t, store.FinishRun(ctx, id, model.Result{
			Status: model.StatusCompleted, Outcome: model.OutcomeAnswer,
		}, sampleTrace()))
	}

	deleted, err := store.PruneRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-c", runs[0].RunID)

	nodes, err := store.LoadTrace(ctx, "run-a")
	require.NoError(t, err)
	assert.Empty(t, nodes, "pruned traces must be gone")
}
