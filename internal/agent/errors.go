// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting in stream
// frames and metric labels.
type ErrorCode string

const (
	// -- Fatal run errors --
	ErrCodeStepLimit         ErrorCode = "STEP_LIMIT_EXCEEDED"
	ErrCodeUndefinedRoute    ErrorCode = "UNDEFINED_TRANSITION"
	ErrCodeNoSession         ErrorCode = "SESSION_NOT_INITIALIZED"
	ErrCodeStateConflict     ErrorCode = "STATE_CONFLICT"
	ErrCodeReasonerFailure   ErrorCode = "REASONER_FAILURE"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeExecutorPanic     ErrorCode = "EXECUTOR_PANIC"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// -- Recoverable (surface as Retry) --
	ErrCodeParseFailure    ErrorCode = "PARSE_FAILURE"
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeScrollFailure   ErrorCode = "SCROLL_FAILURE"
)

var (
	// ErrStepLimitExceeded is returned when a run reaches maxSteps before
	// the terminal node.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrUndefinedTransition is matched by *UndefinedTransitionError.
	ErrUndefinedTransition = errors.New("undefined transition")
	// ErrPlanRewritten is returned when a node tries to replace an existing plan.
	ErrPlanRewritten = errors.New("plan is immutable once written")
	// ErrAnswerRewritten is returned when a node tries to replace the answer.
	ErrAnswerRewritten = errors.New("answer is immutable once written")
)

// UndefinedTransitionError reports a routing decision naming no known node.
type UndefinedTransitionError struct {
	From  string
	Token string
}

func (e *UndefinedTransitionError) Error() string {
	return fmt.Sprintf("undefined transition from %s: no node for %q", e.From, e.Token)
}

// Is lets errors.Is(err, ErrUndefinedTransition) match.
func (e *UndefinedTransitionError) Is(target error) bool { return target == ErrUndefinedTransition }

// PreconditionError is returned when a run is requested without the
// resources it needs, before the engine starts.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return "precondition failed: " + e.Reason }

// NodeError wraps a failure raised by a node so the stream can name it.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Code classifies err for frames and metrics.
func Code(err error) ErrorCode {
	var (
		undefined *UndefinedTransitionError
		pre       *PreconditionError
		nodeErr   *NodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	case errors.Is(err, ErrStepLimitExceeded):
		return ErrCodeStepLimit
	case errors.As(err, &undefined):
		return ErrCodeUndefinedRoute
	case errors.As(err, &pre):
		return ErrCodeNoSession
	case errors.Is(err, ErrPlanRewritten), errors.Is(err, ErrAnswerRewritten):
		return ErrCodeStateConflict
	case errors.As(err, &nodeErr):
		switch nodeErr.Node {
		case NodePlan, NodeDecide, NodeAnswer:
			return ErrCodeReasonerFailure
		}
		return ErrCodeExecutionFailure
	}
	return ErrCodeExecutionFailure
}
