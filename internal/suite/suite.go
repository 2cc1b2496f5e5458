// Package suite assembles the engine per task and runs task batches.
// Each task gets its own enterprise session, trace builder and durable
// conversation; the model client, rulebook and store are shared.
package suite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/metalagman/proctor/internal/config"
	"github.com/metalagman/proctor/internal/delegate"
	"github.com/metalagman/proctor/internal/erc"
	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/logging"
	"github.com/metalagman/proctor/internal/loop"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/trace"
	"github.com/metalagman/proctor/internal/tracestore"
	"github.com/metalagman/proctor/internal/validator"
)

const defaultWorkers = 4

// TaskSpec is one task to solve. APIKey overrides the configured key so a
// suite can mix requesters with different privileges.
type TaskSpec struct {
	Name   string `yaml:"name"`
	Task   string `yaml:"task"`
	APIKey string `yaml:"api_key,omitempty"`
}

// Report is the outcome of one task run.
type Report struct {
	Name      string
	RunID     string
	Result    model.Result
	NodeCount int
	Elapsed   time.Duration
}

// Runner executes tasks end to end and persists their traces.
type Runner struct {
	cfg       config.Config
	completer llm.Completer
	store     *tracestore.Store
	rulebook  *rules.Rulebook
}

// NewRunner builds a runner. The rulebook is loaded once and shared.
func NewRunner(cfg config.Config, completer llm.Completer, store *tracestore.Store, rulebook *rules.Rulebook) *Runner {
	return &Runner{cfg: cfg, completer: completer, store: store, rulebook: rulebook}
}

// RunTask solves one task: establish the session, assemble the root
// context, drive it to a terminal result and persist the trace. Engine
// limits surface in the persisted result, not as an error; only setup and
// persistence failures are returned.
func (r *Runner) RunTask(ctx context.Context, spec TaskSpec) (*Report, error) {
	runID := uuid.NewString()
	started := time.Now()

	apiKey := r.cfg.API.APIKey
	if spec.APIKey != "" {
		apiKey = spec.APIKey
	}
	client, err := erc.NewClient(erc.Config{
		BaseURL: r.cfg.API.BaseURL,
		APIKey:  apiKey,
		Timeout: time.Duration(r.cfg.API.TimeoutSec) * time.Second,
	}, nil)
	if err != nil {
		return nil, err
	}

	session, err := client.WhoAmI(ctx)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	audience := session.Audience()

	gateway := erc.NewGateway(client, func(context.Context) (string, error) {
		return r.rulebook.RespondFor(audience), nil
	})

	builder := trace.NewBuilder()
	loopCfg := loop.Config{
		MaxSteps:    r.cfg.Limits.MaxSteps,
		RetryBudget: r.cfg.Limits.ValidatorRetries,
	}
	checker := validator.New(r.completer, builder, logging.ForRun(runID, rules.RoleValidator))
	orch := delegate.New(loopCfg, r.completer, gateway, checker, builder,
		session, r.rulebook, logging.ForRun(runID, "delegate"))

	rootCfg := loopCfg
	rootCfg.DispatchTerminal = true
	ctrl := loop.New(rootCfg, r.completer, gateway, checker, orch, builder,
		logging.ForRun(runID, rules.RoleAgent))

	if err := r.store.CreateRun(ctx, runID, spec.Task, session.Login); err != nil {
		return nil, err
	}

	runCtx := ctx
	if r.cfg.Limits.TimeoutSec > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Limits.TimeoutSec)*time.Second)
		defer cancel()
	}

	task := spec.Task
	if r.cfg.Model.Analyzer {
		alog := logging.ForRun(runID, "analyzer")
		restated, payload, aErr := analyzeTask(runCtx, r.completer, spec.Task)
		switch {
		case aErr != nil:
			alog.Warn().Err(aErr).Msg("task pre-pass failed, using raw task")
		default:
			task = restated
			if err := r.store.RecordEvent(ctx, runID, "task_analyzed", restated, string(payload)); err != nil {
				alog.Warn().Err(err).Msg("task analysis not recorded")
			}
		}
	}

	system := rules.SystemPrompt(rules.RoleAgent, session.Describe(), r.rulebook.ForAudience(audience))
	result, runErr := ctrl.Run(runCtx, loop.Task{
		Role:           rules.RoleAgent,
		SystemPrompt:   system,
		InitialContext: task,
	})
	if runErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	nodes := builder.Nodes()
	if err := r.store.FinishRun(ctx, runID, result, nodes); err != nil {
		return nil, err
	}
	return &Report{
		Name:      spec.Name,
		RunID:     runID,
		Result:    result,
		NodeCount: len(nodes),
		Elapsed:   time.Since(started),
	}, nil
}

// RunSuite executes the specs with a bounded worker pool. Reports keep the
// input order. The first setup or persistence failure cancels the rest.
func (r *Runner) RunSuite(ctx context.Context, specs []TaskSpec, workers int) ([]Report, error) {
	if workers <= 0 {
		workers = r.cfg.Suite.Workers
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	reports := make([]Report, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			report, err := r.RunTask(gctx, spec)
			if err != nil {
				return fmt.Errorf("task %q: %w", spec.Name, err)
			}
			reports[i] = *report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
