// Package workflow implements the Workflow Model: parsing a YAML
// workflow document into a validated step DAG, the mutable ExecutionContext
// every step reads from and writes to, and the template expression
// evaluator that resolves {{ path }} references against that context.
package workflow

// StepType identifies how a WorkflowStep is dispatched by the engine.
type StepType string

const (
	// StepSequential invokes a single skill and stores its result.
	StepSequential StepType = "sequential"
	// StepParallel launches its branches.steps children concurrently.
	StepParallel StepType = "parallel"
	// StepConditional selects if_true or if_false based on condition.
	StepConditional StepType = "conditional"
	// StepSwitch selects a branch keyed by the stringified condition value.
	StepSwitch StepType = "switch"
)

// DefaultStepTimeoutSeconds is applied to any step that does not declare an
// explicit timeout.
const DefaultStepTimeoutSeconds = 300

// Branch role keys recognized within WorkflowStep.Branches. A switch step's
// case labels are caller-defined and are not enumerated here.
const (
	BranchSteps   = "steps"
	BranchIfTrue  = "if_true"
	BranchIfFalse = "if_false"
	BranchDefault = "default"
)

// Metadata identifies a workflow within the registry.
type Metadata struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// WorkflowStep is one node in the step DAG. Branches is keyed by
// role rather than modeled as separate typed fields per step_type, since the
// role names themselves ("steps", "if_true", "if_false", a switch case
// value, or "default") vary by step_type and a case value is caller-defined.
type WorkflowStep struct {
	ID        string                    `yaml:"id"`
	Skill     string                    `yaml:"skill,omitempty"`
	StepType  StepType                  `yaml:"step_type,omitempty"`
	Inputs    map[string]any            `yaml:"inputs,omitempty"`
	Outputs   string                    `yaml:"outputs,omitempty"`
	Timeout   *int                      `yaml:"timeout,omitempty"`
	Condition string                    `yaml:"condition,omitempty"`
	Branches  map[string][]WorkflowStep `yaml:"branches,omitempty"`
}

// TimeoutSeconds returns the step's configured timeout, or
// DefaultStepTimeoutSeconds when none was declared.
func (s *WorkflowStep) TimeoutSeconds() int {
	if s == nil || s.Timeout == nil {
		return DefaultStepTimeoutSeconds
	}
	return *s.Timeout
}

// EffectiveStepType returns StepType, defaulting to StepSequential.
func (s *WorkflowStep) EffectiveStepType() StepType {
	if s == nil || s.StepType == "" {
		return StepSequential
	}
	return s.StepType
}

// IsLeaf reports whether the step invokes a skill directly, as opposed to
// being a pure control-flow composite.
func (s *WorkflowStep) IsLeaf() bool {
	return s != nil && s.Skill != ""
}

// WorkflowDefinition is the in-memory, validated form of a parsed workflow
// document. It is immutable for the lifetime of a run.
type WorkflowDefinition struct {
	Metadata Metadata       `yaml:"metadata"`
	Steps    []WorkflowStep `yaml:"steps"`
}
