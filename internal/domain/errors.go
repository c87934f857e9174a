package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
)

// Sentinel errors for the execution engine.
var (
	// ErrBlockTerminal means an operation was applied to a block that
	// already reached a terminal state. This is a programming error in the
	// driver, to be logged, never silently applied.
	ErrBlockTerminal = fmt.Errorf("block is in a terminal state")
	// ErrBlockNotEditing means a pre-execution mutation arrived after
	// execution started.
	ErrBlockNotEditing = fmt.Errorf("block is not in editing state")
	// ErrBlockNotRunning means completion data arrived for a block that
	// was never started.
	ErrBlockNotRunning = fmt.Errorf("block is not running")

	// ErrSinkClosed means the event consumer dropped its receiver while an
	// execution was in flight. Fatal for that invocation: the result of a
	// real side-effecting command would otherwise be lost unobserved.
	ErrSinkClosed = fmt.Errorf("event sink closed")

	// ErrPTYSetup covers PTY allocation and spawn failures. The process
	// never reached running.
	ErrPTYSetup = fmt.Errorf("pty setup failed")
	// ErrProcessWait means the child could not be reaped.
	ErrProcessWait = fmt.Errorf("process wait failed")

	// ErrSessionBusy means a configuration change (e.g. working directory)
	// raced an in-flight execution and was refused.
	ErrSessionBusy = fmt.Errorf("session has executions in flight")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "PtyExecutor.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "block", "pty")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsLogicError reports whether err indicates a driver programming error
// rather than an environmental failure.
func IsLogicError(err error) bool {
	return errors.Is(err, ErrBlockTerminal) ||
		errors.Is(err, ErrBlockNotEditing) ||
		errors.Is(err, ErrBlockNotRunning)
}
