// Package engine runs a parsed workflow definition to completion, calling
// out to agent skills over JSON-RPC and threading results through a shared
// ExecutionContext.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a2aflow/a2aflow/a2aerrors"
	"github.com/a2aflow/a2aflow/telemetry"
	"github.com/a2aflow/a2aflow/workflow"
)

// Discovery resolves the two identifiers a running workflow needs: the
// workflow definition itself, and the agent URL behind a skill id.
// discovery.Discovery implements this.
type Discovery interface {
	FindWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error)
	FindAgentForSkill(ctx context.Context, skillID string) (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient overrides the *http.Client used to reach agents.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.caller = newJSONRPCCaller(c) }
}

// WithCaller overrides the AgentCaller entirely, for tests that want to
// stub out agent responses without an HTTP server.
func WithCaller(c AgentCaller) Option {
	return func(e *Engine) { e.caller = c }
}

// WithLogger sets the structured logger used for step execution events.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.obs.logger = l }
}

// WithMetrics sets the metrics sink used for step execution counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.obs.metrics = m }
}

// WithTracer sets the tracer used to span step execution.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.obs.tracer = t }
}

// Engine executes workflow definitions resolved through Discovery.
type Engine struct {
	discovery Discovery
	caller    AgentCaller
	obs       *observability
}

// New constructs an Engine backed by discovery.
func New(discovery Discovery, opts ...Option) *Engine {
	e := &Engine{
		discovery: discovery,
		caller:    newJSONRPCCaller(nil),
		obs:       newObservability(nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RunResult captures the state of a run, complete or partial. StepOutputs
// and FinalOutput reflect whatever had been recorded in the
// ExecutionContext at the point Run returns — including when Run also
// returns an error, so a caller can inspect the steps that completed
// before a later step failed.
type RunResult struct {
	RunID           string
	WorkflowID      string
	WorkflowName    string
	WorkflowVersion string
	InitialInput    any
	StepOutputs     map[string]any
	FinalOutput     any
}

// Run resolves workflowID/version through Discovery and executes every top
// level step in order, starting from initialInput. It always returns a
// RunResult populated with whatever step outputs were recorded before
// returning, even on failure: a step failure aborts remaining steps and
// returns the wrapping *a2aerrors.StepError alongside the partial result,
// so the caller can inspect the outputs of the steps that did complete.
// FinalOutput is the output recorded for the last top-level step, present
// only once that step has actually run.
func (e *Engine) Run(ctx context.Context, workflowID, version string, initialInput any) (*RunResult, error) {
	def, err := e.discovery.FindWorkflow(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:           uuid.NewString(),
		WorkflowID:      workflowID,
		WorkflowName:    def.Metadata.Name,
		WorkflowVersion: version,
		InitialInput:    initialInput,
	}

	execCtx := workflow.NewExecutionContext(initialInput)
	runErr := e.executeSteps(ctx, execCtx, def.Steps)

	result.StepOutputs = execCtx.Snapshot()
	if len(def.Steps) > 0 {
		if out, ok := result.StepOutputs[def.Steps[len(def.Steps)-1].ID]; ok {
			result.FinalOutput = out
		}
	}

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// executeSteps runs steps one at a time, awaiting each before starting the
// next, stopping at the first error.
func (e *Engine) executeSteps(ctx context.Context, execCtx *workflow.ExecutionContext, steps []workflow.WorkflowStep) error {
	for i := range steps {
		if err := e.executeStep(ctx, execCtx, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeStep(ctx context.Context, execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep) error {
	stepType := string(step.EffectiveStepType())
	start := time.Now()
	ctx, span := e.obs.startSpan(ctx, step.ID, stepType)

	var err error
	switch step.EffectiveStepType() {
	case workflow.StepSequential:
		err = e.executeSequential(ctx, execCtx, step)
	case workflow.StepParallel:
		err = e.executeParallel(ctx, execCtx, step)
	case workflow.StepConditional:
		err = e.executeConditional(ctx, execCtx, step)
	case workflow.StepSwitch:
		err = e.executeSwitch(ctx, execCtx, step)
	default:
		err = &a2aerrors.StepError{StepID: step.ID, Err: fmt.Errorf("unknown step_type %q", step.StepType)}
	}

	ev := stepEvent{stepID: step.ID, stepType: stepType, duration: time.Since(start), outcome: outcomeSuccess, err: err}
	if err != nil {
		ev.outcome = outcomeError
	}
	e.obs.finish(ctx, span, ev)
	return err
}

// executeSequential resolves the step's inputs against execCtx, locates the
// agent serving step.Skill, calls it under the step's timeout, and stores
// the result — wrapped under step.Outputs when declared, raw otherwise.
func (e *Engine) executeSequential(ctx context.Context, execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep) error {
	agentURL, err := e.discovery.FindAgentForSkill(ctx, step.Skill)
	if err != nil {
		return &a2aerrors.StepError{StepID: step.ID, Err: err}
	}

	inputs := workflow.ResolveInputs(step.Inputs, execCtx)

	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds())*time.Second)
	defer cancel()

	result, err := e.caller.CallSkill(stepCtx, agentURL, step.Skill, inputs)
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return &a2aerrors.StepError{
				StepID: step.ID,
				Err: &a2aerrors.StepTimeoutError{
					StepID:  step.ID,
					Timeout: fmt.Sprintf("%ds", step.TimeoutSeconds()),
				},
			}
		}
		return &a2aerrors.StepError{StepID: step.ID, Err: err}
	}

	storeStepOutput(execCtx, step, result)
	return nil
}

// storeStepOutput applies the outputs wrapping rule: a step that declares
// outputs: name has its raw result wrapped as {name: result}; a step with
// no outputs name stores the raw result directly.
func storeStepOutput(execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep, result any) {
	value := result
	if step.Outputs != "" {
		value = map[string]any{step.Outputs: result}
	}
	execCtx.SetStepOutput(step.ID, value)
}

// executeParallel runs every child in branches.steps concurrently against a
// shared ExecutionContext. Children have no visibility into each other's
// output while they run — only once every child has completed does the
// parallel step itself finish — and the first error encountered (in child
// order, for determinism) is returned once all children have finished.
func (e *Engine) executeParallel(ctx context.Context, execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep) error {
	children := step.Branches[workflow.BranchSteps]
	if len(children) == 0 {
		return nil
	}

	base := execCtx.Snapshot()
	childCtxs := make([]*workflow.ExecutionContext, len(children))
	errs := make([]error, len(children))
	var wg sync.WaitGroup
	for i := range children {
		childCtxs[i] = workflow.NewExecutionContext(execCtx.Input())
		for k, v := range base {
			childCtxs[i].SetStepOutput(k, v)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.executeStep(ctx, childCtxs[i], &children[i])
		}(i)
	}
	wg.Wait()

	for _, childCtx := range childCtxs {
		for k, v := range childCtx.Snapshot() {
			if _, inherited := base[k]; !inherited {
				execCtx.SetStepOutput(k, v)
			}
		}
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeConditional resolves step.Condition and runs if_true's steps when
// it is truthy, if_false's otherwise. Either branch may be absent, in which
// case taking it is a no-op.
func (e *Engine) executeConditional(ctx context.Context, execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep) error {
	value := workflow.ResolveValue(step.Condition, execCtx)
	branch := workflow.BranchIfFalse
	if workflow.Truthy(value) {
		branch = workflow.BranchIfTrue
	}
	return e.executeSteps(ctx, execCtx, step.Branches[branch])
}

// executeSwitch resolves step.Condition, stringifies it with
// workflow.SwitchKey, and runs the matching branch's steps. When no branch
// matches the key, the default branch runs if declared; when neither
// matches, the step is a no-op.
func (e *Engine) executeSwitch(ctx context.Context, execCtx *workflow.ExecutionContext, step *workflow.WorkflowStep) error {
	value := workflow.ResolveValue(step.Condition, execCtx)
	key := workflow.SwitchKey(value)

	children, ok := step.Branches[key]
	if !ok {
		children, ok = step.Branches[workflow.BranchDefault]
		if !ok {
			return nil
		}
	}
	return e.executeSteps(ctx, execCtx, children)
}
