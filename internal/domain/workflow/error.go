package workflow

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeGuardFailed       = "GUARD_FAILED"
	CodeUnknownStatus     = "UNKNOWN_STATUS"
)

// WorkflowError represents a rejected transition
type WorkflowError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func newInvalidTransition(state State, action Action) *WorkflowError {
	return &WorkflowError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("action %s is not allowed from state %s", action, state),
		Details: map[string]interface{}{
			"state":  state.String(),
			"action": action.String(),
		},
	}
}

func newGuardFailed(state State, action Action, unmet string) *WorkflowError {
	return &WorkflowError{
		Code:    CodeGuardFailed,
		Message: unmet,
		Details: map[string]interface{}{
			"state":  state.String(),
			"action": action.String(),
		},
	}
}

// IsInvalidTransition checks if the error is an invalid transition error
func IsInvalidTransition(err error) bool {
	var wfErr *WorkflowError
	return errors.As(err, &wfErr) && wfErr.Code == CodeInvalidTransition
}

// IsGuardFailed checks if the error is a guard failure
func IsGuardFailed(err error) bool {
	var wfErr *WorkflowError
	return errors.As(err, &wfErr) && wfErr.Code == CodeGuardFailed
}

// IsUnknownStatus checks if the error comes from an unmapped durable status
func IsUnknownStatus(err error) bool {
	var wfErr *WorkflowError
	return errors.As(err, &wfErr) && wfErr.Code == CodeUnknownStatus
}
