package orchestrator

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentflow/internal/lifecycle"
	"github.com/fyrsmithlabs/agentflow/internal/sandbox"
)

// Request errors.
var (
	ErrInvalidRequest = errors.New("invalid task request")
	ErrNoWorkspace    = errors.New("task has no workspace directory")
)

// Task lifecycle errors.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTaskRunning       = errors.New("task is running")
	ErrTimeout           = errors.New("task timed out")
)

// Admission errors.
var (
	ErrCapacity       = errors.New("maximum concurrent tasks reached")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrShutdown       = errors.New("orchestrator is shut down")
)

// Kind classifies orchestrator failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindProcessControl
	KindSandboxViolation
	KindCapacity
	KindPersistence
	KindNotFound
	KindInvalidTransition
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindProcessControl:
		return "process_control"
	case KindSandboxViolation:
		return "sandbox_violation"
	case KindCapacity:
		return "capacity"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified orchestrator failure.
type Error struct {
	Kind   Kind
	Op     string
	TaskID int64
	Err    error
}

func (e *Error) Error() string {
	if e.TaskID != 0 {
		return fmt.Sprintf("%s task %d: %v", e.Op, e.TaskID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, taskID int64, err error) *Error {
	return &Error{Kind: kind, Op: op, TaskID: taskID, Err: err}
}

// wrap classifies err with KindOf unless it already is an *Error.
func wrap(op string, taskID int64, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return newError(KindOf(err), op, taskID, err)
}

// KindOf classifies err, including errors from the sandbox and lifecycle
// packages.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if sandbox.KindOf(err) != 0 {
		return KindSandboxViolation
	}

	switch {
	case errors.Is(err, lifecycle.ErrProcessControl), errors.Is(err, lifecycle.ErrNoProcess):
		return KindProcessControl
	case errors.Is(err, ErrTaskNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTaskRunning):
		return KindInvalidTransition
	case errors.Is(err, ErrCapacity), errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrShutdown):
		return KindCapacity
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNoWorkspace):
		return KindValidation
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindUnknown
	}
}
