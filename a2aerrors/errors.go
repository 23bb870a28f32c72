// Package a2aerrors defines the structured error taxonomy shared by the
// registry client, discovery, the workflow model, and the engine. Each kind
// preserves the error chain so callers can use errors.Is/errors.As while
// still reading naturally with %v/Error().
package a2aerrors

import (
	"errors"
	"fmt"
)

// ValidationError reports a structural problem found while loading a
// workflow document. The engine aborts the run before any step executes
// when this is returned.
type ValidationError struct {
	// Field names the first offending field or path, when known.
	Field string
	// Message describes the structural problem.
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NotFoundError is returned by Discovery when a skill or workflow id cannot
// be resolved against the registry catalog.
type NotFoundError struct {
	// Kind identifies what was being looked up ("agent" or "workflow").
	Kind string
	// ID is the identifier that could not be found.
	ID string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NetworkError wraps a transport failure talking to the OCI registry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("registry network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RegistryError reports a non-2xx response from the OCI Distribution API
// that is not better explained by NotFoundError or IntegrityError.
type RegistryError struct {
	Op     string
	Status int
	Body   string
}

func (e *RegistryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("registry error during %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IntegrityError reports a digest mismatch between the content a registry
// operation received and the digest it was expected to carry. It is always
// treated as a hard failure — the payload is never trusted.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// AgentTransportError reports a failure to reach an agent's /execute
// endpoint or a non-2xx HTTP response from it.
type AgentTransportError struct {
	URL string
	Err error
}

func (e *AgentTransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agent transport error calling %s: %v", e.URL, e.Err)
}

func (e *AgentTransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AgentError wraps a JSON-RPC 2.0 error object returned by an agent's skill
// invocation. Code follows the standard JSON-RPC error code space.
type AgentError struct {
	Code    int
	Message string
	Data    any
}

func (e *AgentError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StepTimeoutError reports that a leaf step's agent call did not complete
// within its configured timeout.
type StepTimeoutError struct {
	StepID  string
	Timeout string
}

func (e *StepTimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q timed out after %s", e.StepID, e.Timeout)
}

// StepError wraps any of the above into a failure attributed to a specific
// workflow step, so the caller can tell which node in the DAG failed without
// string-matching the underlying message.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q failed: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsIntegrity reports whether err is, or wraps, an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
