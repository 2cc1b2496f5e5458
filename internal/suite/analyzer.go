package suite

import (
	"context"
	"encoding/json"

	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/schema"
)

// analyzeTask is the optional pre-pass: one model call restating the raw
// task before orchestration starts. Returns the restated task and the raw
// analysis payload for the run event log.
func analyzeTask(ctx context.Context, completer llm.Completer, task string) (string, json.RawMessage, error) {
	resp, err := completer.Complete(ctx, llm.Request{
		System:     rules.AnalyzerPrompt(),
		Messages:   []model.Message{{Role: model.RoleUser, Content: task}},
		SchemaName: schema.AnalysisSchemaName,
		Schema:     schema.AnalysisSchema,
	})
	if err != nil {
		return "", nil, err
	}
	analysis, err := schema.DecodeAnalysis(resp.Content)
	if err != nil {
		return "", nil, err
	}
	return analysis.RestatedTask, resp.Content, nil
}
