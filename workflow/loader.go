package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/a2aflow/a2aflow/a2aerrors"
)

// roleSteps etc. alias the exported branch role constants for brevity
// within this file.
const (
	roleSteps   = BranchSteps
	roleIfTrue  = BranchIfTrue
	roleIfFalse = BranchIfFalse
	roleDefault = BranchDefault
)

// Load parses a YAML workflow document and validates it, rejecting anything
// the engine could not safely run: an empty metadata.id/name/version, no
// top-level steps, a duplicate step id anywhere in the tree, a composite
// step whose control-flow fields don't match its step_type, or a timeout
// that is zero or negative. Validation failures are returned as
// *a2aerrors.ValidationError.
func Load(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &a2aerrors.ValidationError{Message: fmt.Sprintf("invalid yaml: %v", err)}
	}
	if err := validateMetadata(def.Metadata); err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, &a2aerrors.ValidationError{Field: "steps", Message: "workflow must declare at least one step"}
	}
	seen := make(map[string]struct{})
	if err := validateSteps(def.Steps, seen); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateMetadata(m Metadata) error {
	switch {
	case m.ID == "":
		return &a2aerrors.ValidationError{Field: "metadata.id", Message: "must not be empty"}
	case m.Name == "":
		return &a2aerrors.ValidationError{Field: "metadata.name", Message: "must not be empty"}
	case m.Version == "":
		return &a2aerrors.ValidationError{Field: "metadata.version", Message: "must not be empty"}
	}
	return nil
}

// validateSteps walks the full step tree — including nested branches —
// checking each step in isolation and accumulating ids into seen so a
// duplicate anywhere in the tree is caught, since template paths address a
// step by id regardless of how deeply it is nested.
func validateSteps(steps []WorkflowStep, seen map[string]struct{}) error {
	for i := range steps {
		step := steps[i]
		if err := validateStep(step, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step WorkflowStep, seen map[string]struct{}) error {
	if step.ID == "" {
		return &a2aerrors.ValidationError{Field: "steps[].id", Message: "must not be empty"}
	}
	if _, dup := seen[step.ID]; dup {
		return &a2aerrors.ValidationError{Field: "steps[].id", Message: fmt.Sprintf("duplicate step id %q", step.ID)}
	}
	seen[step.ID] = struct{}{}

	if step.Timeout != nil && *step.Timeout <= 0 {
		return &a2aerrors.ValidationError{Field: step.ID + ".timeout", Message: "must be positive"}
	}

	switch step.EffectiveStepType() {
	case StepSequential:
		if step.Skill == "" {
			return &a2aerrors.ValidationError{Field: step.ID + ".skill", Message: "sequential step must declare a skill"}
		}
	case StepParallel:
		for role := range step.Branches {
			if role != roleSteps {
				return &a2aerrors.ValidationError{Field: step.ID + ".branches." + role, Message: "parallel step only accepts a steps branch"}
			}
		}
		for _, child := range step.Branches[roleSteps] {
			if err := validateStep(child, seen); err != nil {
				return err
			}
		}
	case StepConditional:
		if step.Condition == "" {
			return &a2aerrors.ValidationError{Field: step.ID + ".condition", Message: "conditional step must declare a condition"}
		}
		for role := range step.Branches {
			if role != roleIfTrue && role != roleIfFalse {
				return &a2aerrors.ValidationError{Field: step.ID + ".branches." + role, Message: "conditional step only accepts if_true and if_false branches"}
			}
		}
		for _, branch := range []string{roleIfTrue, roleIfFalse} {
			for _, child := range step.Branches[branch] {
				if err := validateStep(child, seen); err != nil {
					return err
				}
			}
		}
	case StepSwitch:
		if step.Condition == "" {
			return &a2aerrors.ValidationError{Field: step.ID + ".condition", Message: "switch step must declare a condition"}
		}
		for _, children := range step.Branches {
			if err := validateSteps(children, seen); err != nil {
				return err
			}
		}
	default:
		return &a2aerrors.ValidationError{Field: step.ID + ".step_type", Message: fmt.Sprintf("unknown step_type %q", step.StepType)}
	}
	return nil
}
