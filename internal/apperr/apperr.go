// Package apperr defines the error taxonomy shared by the PCIV pipeline, the
// decision engine and the readiness resolver.
package apperr

import (
	"errors"
	"fmt"
)

// #region kinds
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrAgentExecution    = errors.New("agent execution failed")
)

// #endregion kinds

// #region error
// Error carries a taxonomy kind plus a human-readable message. Callers match on
// the kind with errors.Is or the Is* helpers below.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the wrapped cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// #endregion error

// #region constructors
// NotFound reports an unknown id reference.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports a mutation the current lifecycle state forbids.
func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input: a bad pointer, an unregistered key, a schema mismatch.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// AgentExecution wraps an error returned by an agent.
func AgentExecution(agentRef string, err error) error {
	return &Error{Kind: ErrAgentExecution, Msg: "agent " + agentRef, Err: err}
}

// #endregion constructors

// #region predicates
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsAgentExecution(err error) bool { return errors.Is(err, ErrAgentExecution) }

// #endregion predicates
