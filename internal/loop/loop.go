// Package loop drives one agent context through the plan-validate-execute
// cycle until it terminates or hits an engine limit. A context owns its
// durable conversation; everything else (trace builder, gateway, model
// clients) is shared across the run.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/metalagman/proctor/internal/conversation"
	"github.com/metalagman/proctor/internal/erc"
	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/schema"
	"github.com/metalagman/proctor/internal/trace"
	"github.com/metalagman/proctor/internal/validator"
)

// Engine-limit failures. Both terminate the context with an internal-error
// result instead of letting a looping or misbehaving planner run unchecked.
var (
	ErrStepLimit          = errors.New("step limit reached")
	ErrValidatorExhausted = errors.New("validator retries exhausted")
)

const (
	defaultMaxSteps    = 40
	defaultRetryBudget = 2
)

// Config bounds one controller.
type Config struct {
	// MaxSteps caps executed cycles per context.
	MaxSteps int
	// RetryBudget is the number of additional planning attempts allowed
	// per cycle after a rejection or malformed output.
	RetryBudget int
	// DispatchTerminal sends the terminal respond action through the
	// gateway. Set for the root context only; children report upward
	// without touching the API.
	DispatchTerminal bool
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	switch {
	case c.RetryBudget == 0:
		c.RetryBudget = defaultRetryBudget
	case c.RetryBudget < 0:
		c.RetryBudget = 0
	}
	return c
}

// Delegator runs a delegated task in a child context beneath the given
// parent node and returns the child's terminal result. Child-side fatal
// errors are absorbed into a refused result before they reach the parent.
type Delegator interface {
	Delegate(ctx context.Context, parent trace.NodeID, role, task string) model.Result
}

// Task describes one agent context to run.
type Task struct {
	Role           string
	SystemPrompt   string
	InitialContext string
	// ParentNode is the delegating step's node id, empty for the root.
	ParentNode trace.NodeID
}

// Controller runs agent contexts. One controller serves a whole task run,
// root and delegated children alike.
type Controller struct {
	cfg       Config
	completer llm.Completer
	gateway   *erc.Gateway
	checker   *validator.Validator
	delegator Delegator
	builder   *trace.Builder
	log       zerolog.Logger
}

// New assembles a controller. delegator may be nil, in which case
// delegation attempts fail as refused observations.
func New(cfg Config, completer llm.Completer, gateway *erc.Gateway, checker *validator.Validator, delegator Delegator, builder *trace.Builder, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:       cfg.withDefaults(),
		completer: completer,
		gateway:   gateway,
		checker:   checker,
		delegator: delegator,
		builder:   builder,
		log:       log,
	}
}

// Run drives the context until a terminal respond action or an engine
// limit. On a fatal condition the returned result is a failed
// internal-error result and the error names the cause; the caller decides
// whether that surfaces as the run outcome or as a refused delegation.
func (c *Controller) Run(ctx context.Context, task Task) (model.Result, error) {
	log := c.log.With().Str("role", task.Role).Str("parent", string(task.ParentNode)).Logger()
	durable := conversation.NewLog(task.InitialContext)
	retry := &conversation.Retry{}
	var prevSibling trace.NodeID

	for step := 1; step <= c.cfg.MaxSteps; step++ {
		nodeID := c.builder.NextID(task.ParentNode)
		cycle := cycleState{
			task:        task,
			nodeID:      nodeID,
			prevSibling: prevSibling,
			durable:     durable,
			retry:       retry,
		}
		result, done, err := c.runCycle(ctx, log, cycle)
		if err != nil {
			return model.Result{
				Status:  model.StatusFailed,
				Outcome: model.OutcomeInternalError,
				Message: err.Error(),
			}, err
		}
		if done {
			return result, nil
		}
		prevSibling = nodeID
	}

	log.Error().Int("max_steps", c.cfg.MaxSteps).Msg("context exceeded step limit")
	return model.Result{
		Status:  model.StatusFailed,
		Outcome: model.OutcomeInternalError,
		Message: fmt.Sprintf("task aborted after %d steps without completing", c.cfg.MaxSteps),
	}, ErrStepLimit
}

type cycleState struct {
	task        Task
	nodeID      trace.NodeID
	prevSibling trace.NodeID
	durable     *conversation.Log
	retry       *conversation.Retry
}

// runCycle performs one full cycle: plan, validate (bounded retries),
// execute, record. done is true when the context produced its terminal
// result.
func (c *Controller) runCycle(ctx context.Context, log zerolog.Logger, cy cycleState) (model.Result, bool, error) {
	var (
		step     *model.Step
		resp     llm.Response
		planMsgs []model.Message
	)

	// Once a validator annotation exists for this node id, the node itself
	// must be recorded before any fatal exit so the trace stays linkable.
	annotated := false
	recordOnFatal := func() {
		if annotated {
			c.recordStep(cy, planMsgs, resp, nil, nil)
		}
	}

	attempts := 1 + c.cfg.RetryBudget
	for attempt := 1; ; attempt++ {
		msgs := conversation.View(cy.durable, cy.retry)
		attemptResp, err := c.completer.Complete(ctx, llm.Request{
			System:     cy.task.SystemPrompt,
			Messages:   msgs,
			SchemaName: schema.StepSchemaName,
			Schema:     schema.StepSchema,
		})
		if err != nil {
			recordOnFatal()
			return model.Result{}, false, fmt.Errorf("planning call: %w", err)
		}

		step, err = schema.DecodeStep(attemptResp.Content)
		if err != nil {
			log.Warn().Err(err).Str("node", string(cy.nodeID)).Int("attempt", attempt).
				Msg("discarding malformed step")
			if attempt >= attempts {
				recordOnFatal()
				return model.Result{}, false, fmt.Errorf("planner output unusable after %d attempts: %w", attempt, err)
			}
			cy.retry.Reject("(unreadable step)", "Your previous output did not decode as a valid step: "+err.Error())
			continue
		}

		if !c.checker.Applies(cy.task.Role, stepTools(step)) {
			planMsgs, resp = msgs, attemptResp
			break
		}

		decision, err := c.checker.Check(ctx, cy.nodeID, cy.task.SystemPrompt, msgs, attemptResp.Content)
		if err != nil {
			recordOnFatal()
			return model.Result{}, false, err
		}
		annotated = true
		planMsgs, resp = msgs, attemptResp
		if decision.Valid {
			break
		}
		log.Info().Str("node", string(cy.nodeID)).Int("attempt", attempt).
			Str("rejection", decision.Rejection).Msg("step rejected")
		if attempt >= attempts {
			c.recordStep(cy, planMsgs, resp, nil, nil)
			return model.Result{}, false, fmt.Errorf("%w: %d attempts rejected for node %s",
				ErrValidatorExhausted, attempt, cy.nodeID)
		}
		cy.retry.Reject(step.NextAction, decision.Rejection)
	}
	cy.retry.Reset()

	switch step.Kind() {
	case model.ActionTerminal:
		result, err := c.finishTerminal(ctx, cy, planMsgs, resp, step)
		if err != nil {
			return model.Result{}, false, err
		}
		return result, true, nil

	case model.ActionDelegate:
		if err := c.executeDelegate(ctx, log, cy, planMsgs, resp, step); err != nil {
			return model.Result{}, false, err
		}

	default:
		if err := c.executeCalls(ctx, cy, planMsgs, resp, step); err != nil {
			return model.Result{}, false, err
		}
	}

	cy.durable.SetPlan(step.RemainingWork)
	return model.Result{}, false, nil
}

// executeCalls runs a single tool call or a batch through the gateway and
// compacts the exchange into the durable conversation. Cancellation during
// execution still records the step node so its annotations resolve.
func (c *Controller) executeCalls(ctx context.Context, cy cycleState, planMsgs []model.Message, resp llm.Response, step *model.Step) error {
	obs, err := c.gateway.Execute(ctx, step.Calls())
	if err != nil {
		c.recordStep(cy, planMsgs, resp, nil, nil)
		return err
	}
	c.recordStep(cy, planMsgs, resp, obs.Records, nil)

	if step.Kind() == model.ActionBatch {
		cy.durable.AppendCycle(conversation.BatchCycleEntry(step.NextAction, obs.Text))
		return nil
	}
	request := "{}"
	if len(obs.Records) > 0 {
		request = string(obs.Records[0].Request)
	}
	cy.durable.AppendCycle(conversation.CycleEntry(step.NextAction, request, obs.Text))
	return nil
}

// executeDelegate runs the child context synchronously and merges its
// terminal result into the parent as the next observation.
func (c *Controller) executeDelegate(ctx context.Context, log zerolog.Logger, cy cycleState, planMsgs []model.Message, resp llm.Response, step *model.Step) error {
	del, err := step.Delegation()
	if err != nil {
		c.recordStep(cy, planMsgs, resp, nil, nil)
		return err
	}
	var result model.Result
	switch {
	case c.delegator == nil:
		result = model.Refusal(model.OutcomeUnsupported, "delegation is not available in this context")
	case !rules.KnownDelegateRole(del.Role):
		result = model.Refusal(model.OutcomeUnsupported, fmt.Sprintf("unknown sub-agent role %q", del.Role))
	default:
		result = c.delegator.Delegate(ctx, cy.nodeID, del.Role, del.Task)
	}

	log.Info().Str("node", string(cy.nodeID)).Str("child_role", del.Role).
		Str("status", string(result.Status)).Msg("delegation finished")
	// recorded before the cancellation check: the child's nodes already
	// reference this node as their parent
	c.recordStep(cy, planMsgs, resp, nil, &trace.DelegationResult{
		Role:   del.Role,
		Status: result.Status,
		Report: result.Message,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cy.durable.AppendCycle(conversation.DelegationEntry(step.NextAction, del.Role, del.Task))
	cy.durable.AppendObservation(conversation.DelegateReport(del.Role, result.Status, result.Message))
	return nil
}

// finishTerminal closes the context with its respond action. The root
// context additionally delivers the response through the gateway.
func (c *Controller) finishTerminal(ctx context.Context, cy cycleState, planMsgs []model.Message, resp llm.Response, step *model.Step) (model.Result, error) {
	rsp, err := step.Respond()
	if err != nil {
		c.recordStep(cy, planMsgs, resp, nil, nil)
		return model.Result{}, err
	}

	var records []trace.ToolCallRecord
	if c.cfg.DispatchTerminal {
		obs, err := c.gateway.Execute(ctx, []model.ToolCall{*step.Call.Function})
		if err != nil {
			c.recordStep(cy, planMsgs, resp, nil, nil)
			return model.Result{}, err
		}
		records = obs.Records
	}
	c.recordStep(cy, planMsgs, resp, records, nil)

	status := model.StatusRefused
	if rsp.Outcome.Completed() {
		status = model.StatusCompleted
	}
	return model.Result{
		Status:  status,
		Outcome: rsp.Outcome,
		Message: rsp.Message,
		Links:   rsp.Links,
	}, nil
}

// stepTools lists the tool routes a step proposes, for validator scoping.
func stepTools(step *model.Step) []string {
	calls := step.Calls()
	tools := make([]string, 0, len(calls))
	for _, call := range calls {
		tools = append(tools, call.Tool)
	}
	return tools
}

func (c *Controller) recordStep(cy cycleState, planMsgs []model.Message, resp llm.Response, records []trace.ToolCallRecord, del *trace.DelegationResult) {
	c.builder.RecordStep(trace.StepInput{
		ID:            cy.nodeID,
		Parent:        cy.task.ParentNode,
		PrevSibling:   cy.prevSibling,
		FirstInBranch: cy.prevSibling == "" && cy.task.ParentNode != "",
		Role:          cy.task.Role,
		SystemPrompt:  cy.task.SystemPrompt,
		InputMessages: planMsgs,
		Output:        resp.Content,
		Reasoning:     resp.Reasoning,
		TimingSec:     resp.Duration.Seconds(),
		ToolCalls:     records,
		Delegation:    del,
	})
}
