package core

import (
	"errors"
	"fmt"
)

// ErrIterationBudget indicates the reasoning loop hit its iteration cap
// without producing a final answer.
var ErrIterationBudget = errors.New("iteration budget exceeded")

// TransportError indicates a failure talking to the LLM gateway. It is the
// only error class that aborts a query.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExtractionError indicates the final answer did not contain a parseable
// JSON payload. Callers always recover with schema-conformant defaults.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// ToolInvocationError indicates a malformed tool request inside the loop.
// It is fed back as an observation, never propagated to the caller.
type ToolInvocationError struct {
	Tool   string
	Reason string
}

func (e *ToolInvocationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("tool invocation: %s", e.Reason)
	}
	return fmt.Sprintf("tool invocation (%s): %s", e.Tool, e.Reason)
}

// InvalidInputError indicates the caller passed arguments a tool cannot act on.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}
