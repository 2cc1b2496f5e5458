// Package delegate spawns child agent contexts for /delegate actions and
// folds their terminal results back into the parent's conversation.
package delegate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metalagman/proctor/internal/erc"
	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/loop"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/trace"
	"github.com/metalagman/proctor/internal/validator"
)

// Orchestrator runs delegated tasks synchronously, one child at a time.
// Children share the parent's trace builder, gateway, validator and model
// client but own a fresh conversation scoped to the delegated task.
type Orchestrator struct {
	cfg       loop.Config
	completer llm.Completer
	gateway   *erc.Gateway
	checker   *validator.Validator
	builder   *trace.Builder
	session   erc.Session
	rulebook  *rules.Rulebook
	log       zerolog.Logger
}

// New assembles an orchestrator for one task run. The session and rulebook
// are the run's own: a child acts on behalf of the same requester.
func New(cfg loop.Config, completer llm.Completer, gateway *erc.Gateway, checker *validator.Validator, builder *trace.Builder, session erc.Session, rulebook *rules.Rulebook, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		completer: completer,
		gateway:   gateway,
		checker:   checker,
		builder:   builder,
		session:   session,
		rulebook:  rulebook,
		log:       log,
	}
}

// Delegate runs one child context under parent and returns its terminal
// result. A child that fails fatally comes back as a refusal: the parent
// plans around a refused sub-task, it does not inherit the child's error.
// Children never dispatch through /respond and cannot delegate further.
func (o *Orchestrator) Delegate(ctx context.Context, parent trace.NodeID, role, task string) model.Result {
	system := rules.SystemPrompt(role, o.session.Describe(), o.rulebook.ForAudience(o.session.Audience()))

	child := loop.New(loop.Config{
		MaxSteps:    o.cfg.MaxSteps,
		RetryBudget: o.cfg.RetryBudget,
	}, o.completer, o.gateway, o.checker, nil, o.builder, o.log)

	result, err := child.Run(ctx, loop.Task{
		Role:           role,
		SystemPrompt:   system,
		InitialContext: task,
		ParentNode:     parent,
	})
	if err != nil {
		o.log.Warn().Err(err).Str("role", role).Str("parent", string(parent)).
			Msg("delegated context failed")
		msg := result.Message
		if msg == "" {
			msg = "sub-task failed: " + err.Error()
		}
		return model.Refusal(model.OutcomeInternalError, msg)
	}
	return result
}
