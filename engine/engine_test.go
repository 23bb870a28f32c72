package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2aflow/a2aflow/a2aerrors"
	"github.com/a2aflow/a2aflow/workflow"
)

type fakeDiscovery struct {
	def        *workflow.WorkflowDefinition
	skillToURL map[string]string
	findErr    error
}

func (f *fakeDiscovery) FindWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.def, nil
}

func (f *fakeDiscovery) FindAgentForSkill(ctx context.Context, skillID string) (string, error) {
	if url, ok := f.skillToURL[skillID]; ok {
		return url, nil
	}
	return "", &a2aerrors.NotFoundError{Kind: "agent", ID: skillID}
}

type fakeCaller struct {
	responses map[string]any
	errs      map[string]error
	delay     time.Duration
}

func (f *fakeCaller) CallSkill(ctx context.Context, agentURL, skillID string, params map[string]any) (any, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[skillID]; ok {
		return nil, err
	}
	return f.responses[skillID], nil
}

func mustLoad(t *testing.T, doc string) *workflow.WorkflowDefinition {
	t.Helper()
	def, err := workflow.Load([]byte(doc))
	require.NoError(t, err)
	return def
}

func TestRunSequentialPipeline(t *testing.T) {
	doc := `
metadata:
  id: seq
  name: Seq
  version: "1.0"
steps:
  - id: fetch
    skill: fetch.customer
    outputs: fetched
    inputs:
      id: "{{ workflow.input.customer_id }}"
  - id: summarize
    skill: summarize.text
    inputs:
      text: "{{ steps.fetch.outputs.fetched.body }}"
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{
		def: def,
		skillToURL: map[string]string{
			"fetch.customer": "http://fetch.internal",
			"summarize.text": "http://summarize.internal",
		},
	}
	caller := &fakeCaller{
		responses: map[string]any{
			"fetch.customer": map[string]any{"body": "hello"},
			"summarize.text": "hello, summarized",
		},
	}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "seq", "1.0", map[string]any{"customer_id": "c-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fetched": map[string]any{"body": "hello"}}, result.StepOutputs["fetch"])
	assert.Equal(t, "hello, summarized", result.StepOutputs["summarize"])
	assert.Equal(t, "seq", result.WorkflowID)
	assert.Equal(t, "Seq", result.WorkflowName)
	assert.Equal(t, "1.0", result.WorkflowVersion)
	assert.Equal(t, map[string]any{"customer_id": "c-1"}, result.InitialInput)
	assert.Equal(t, "hello, summarized", result.FinalOutput)
}

func TestRunParallelFanOut(t *testing.T) {
	doc := `
metadata:
  id: par
  name: Par
  version: "1.0"
steps:
  - id: fanout
    step_type: parallel
    branches:
      steps:
        - id: a
          skill: work.a
        - id: b
          skill: work.b
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{
		def:        def,
		skillToURL: map[string]string{"work.a": "http://a.internal", "work.b": "http://b.internal"},
	}
	caller := &fakeCaller{responses: map[string]any{"work.a": "A done", "work.b": "B done"}}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "par", "1.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "A done", result.StepOutputs["a"])
	assert.Equal(t, "B done", result.StepOutputs["b"])
}

func TestRunConditionalTrueBranch(t *testing.T) {
	doc := `
metadata:
  id: cond
  name: Cond
  version: "1.0"
steps:
  - id: gate
    step_type: conditional
    condition: "{{ workflow.input.approved }}"
    branches:
      if_true:
        - id: approve_path
          skill: approve.process
      if_false:
        - id: reject_path
          skill: reject.process
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{
		def: def,
		skillToURL: map[string]string{
			"approve.process": "http://approve.internal",
			"reject.process":  "http://reject.internal",
		},
	}
	caller := &fakeCaller{responses: map[string]any{"approve.process": "approved", "reject.process": "rejected"}}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "cond", "1.0", map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, "approved", result.StepOutputs["approve_path"])
	_, ran := result.StepOutputs["reject_path"]
	assert.False(t, ran)
}

func TestRunSwitchFallsBackToDefault(t *testing.T) {
	doc := `
metadata:
  id: switchy
  name: Switchy
  version: "1.0"
steps:
  - id: route
    step_type: switch
    condition: "{{ workflow.input.tier }}"
    branches:
      gold:
        - id: gold_path
          skill: gold.process
      default:
        - id: default_path
          skill: default.process
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{
		def: def,
		skillToURL: map[string]string{
			"gold.process":    "http://gold.internal",
			"default.process": "http://default.internal",
		},
	}
	caller := &fakeCaller{responses: map[string]any{"gold.process": "gold", "default.process": "defaulted"}}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "switchy", "1.0", map[string]any{"tier": "silver"})
	require.NoError(t, err)
	assert.Equal(t, "defaulted", result.StepOutputs["default_path"])
}

func TestRunSwitchNoDefaultIsNoOp(t *testing.T) {
	doc := `
metadata:
  id: switchy-no-default
  name: Switchy No Default
  version: "1.0"
steps:
  - id: route
    step_type: switch
    condition: "{{ workflow.input.tier }}"
    branches:
      gold:
        - id: gold_path
          skill: gold.process
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{def: def, skillToURL: map[string]string{"gold.process": "http://gold.internal"}}
	caller := &fakeCaller{responses: map[string]any{"gold.process": "gold"}}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "switchy-no-default", "1.0", map[string]any{"tier": "silver"})
	require.NoError(t, err)
	assert.Empty(t, result.StepOutputs)
}

func TestRunAgentErrorPropagatesAsStepError(t *testing.T) {
	doc := `
metadata:
  id: errflow
  name: Err Flow
  version: "1.0"
steps:
  - id: fail
    skill: always.fail
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{def: def, skillToURL: map[string]string{"always.fail": "http://fail.internal"}}
	caller := &fakeCaller{errs: map[string]error{"always.fail": &a2aerrors.AgentError{Code: -32603, Message: "boom"}}}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "errflow", "1.0", nil)
	require.Error(t, err)
	var stepErr *a2aerrors.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fail", stepErr.StepID)
	require.NotNil(t, result)
	assert.Equal(t, "errflow", result.WorkflowID)
}

func TestRunPreservesPartialStepOutputsOnFailure(t *testing.T) {
	doc := `
metadata:
  id: partial
  name: Partial
  version: "1.0"
steps:
  - id: first
    skill: step.one
  - id: second
    skill: step.two
  - id: third
    skill: step.three
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{
		def: def,
		skillToURL: map[string]string{
			"step.one":   "http://one.internal",
			"step.two":   "http://two.internal",
			"step.three": "http://three.internal",
		},
	}
	caller := &fakeCaller{
		responses: map[string]any{"step.one": "first done", "step.two": "second done"},
		errs:      map[string]error{"step.three": &a2aerrors.AgentError{Code: -32603, Message: "boom"}},
	}
	eng := New(disc, WithCaller(caller))

	result, err := eng.Run(context.Background(), "partial", "1.0", nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "first done", result.StepOutputs["first"])
	assert.Equal(t, "second done", result.StepOutputs["second"])
	_, ran := result.StepOutputs["third"]
	assert.False(t, ran, "third step should not have recorded an output after failing")
	assert.Nil(t, result.FinalOutput, "final output should be unset when the last step never completed")
}

func TestRunFindWorkflowFailureReturnsNoResult(t *testing.T) {
	disc := &fakeDiscovery{findErr: &a2aerrors.NotFoundError{Kind: "workflow", ID: "missing@1.0"}}
	eng := New(disc, WithCaller(&fakeCaller{}))

	result, err := eng.Run(context.Background(), "missing", "1.0", nil)
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestRunStepTimeout(t *testing.T) {
	doc := `
metadata:
  id: timeoutflow
  name: Timeout Flow
  version: "1.0"
steps:
  - id: slow
    skill: slow.work
    timeout: 1
`
	def := mustLoad(t, doc)
	disc := &fakeDiscovery{def: def, skillToURL: map[string]string{"slow.work": "http://slow.internal"}}
	caller := &fakeCaller{delay: 2 * time.Second}
	eng := New(disc, WithCaller(caller))

	_, err := eng.Run(context.Background(), "timeoutflow", "1.0", nil)
	require.Error(t, err)
	var stepErr *a2aerrors.StepError
	require.ErrorAs(t, err, &stepErr)
	var timeoutErr *a2aerrors.StepTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}
