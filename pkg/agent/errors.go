package agent

import (
	"errors"
	"fmt"
)

// Error kinds for agent failures. Callers branch on these with errors.Is to
// decide whether a failure is retryable or user-facing.
var (
	// ErrValidation covers rejected input: malformed tool arguments, unknown
	// tools, bad trigger parameters. Never retryable.
	ErrValidation = errors.New("validation failed")

	// ErrExecution covers failures inside a tool or an LLM call. Retryable
	// at the scheduler's discretion.
	ErrExecution = errors.New("execution failed")

	// ErrPersistence covers storage failures: the conversation log or the
	// trigger store refusing a write.
	ErrPersistence = errors.New("persistence failed")

	// ErrUnexpected covers everything else, including panics recovered at
	// the runtime boundary.
	ErrUnexpected = errors.New("unexpected failure")
)

// agentError carries the agent that failed alongside the classified cause.
type agentError struct {
	kind    error
	agentID string
	msg     string
	cause   error
}

func (e *agentError) Error() string {
	s := fmt.Sprintf("agent %s: %s", e.agentID, e.msg)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *agentError) Unwrap() error { return e.cause }

func (e *agentError) Is(target error) bool { return target == e.kind }

func wrapErr(kind error, agentID, msg string, cause error) error {
	return &agentError{kind: kind, agentID: agentID, msg: msg, cause: cause}
}
