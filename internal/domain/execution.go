package domain

import (
	"context"
	"time"
)

// ExecutionEventKind identifies a variant of ExecutionEvent. Consumers must
// switch exhaustively over these; an unhandled kind is a logic fault, not
// something to fall through a wildcard arm.
type ExecutionEventKind int

const (
	// ExecStarted is emitted exactly once, always first.
	ExecStarted ExecutionEventKind = iota
	// ExecStdoutData carries a chunk of process output, in arrival order.
	ExecStdoutData
	// ExecStderrData carries a chunk attributed to stderr. The PTY merges
	// the child's streams, so the executor never produces this for process
	// output; it exists for synthesized diagnostics and for non-PTY
	// executors that can keep the streams apart.
	ExecStderrData
	// ExecCompleted is the terminal event for normal process exit.
	ExecCompleted
	// ExecFailed is the terminal event for an execution-level failure:
	// PTY allocation, spawn, or wait.
	ExecFailed
	// ExecCancelled is the terminal event for externally requested
	// interruption.
	ExecCancelled
)

func (k ExecutionEventKind) String() string {
	switch k {
	case ExecStarted:
		return "started"
	case ExecStdoutData:
		return "stdout_data"
	case ExecStderrData:
		return "stderr_data"
	case ExecCompleted:
		return "completed"
	case ExecFailed:
		return "failed"
	case ExecCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ExecutionEvent is a discrete, strictly ordered notification describing the
// progress of one command's execution. For a single invocation the stream is
// always Started, zero or more data events, then exactly one terminal event
// (Completed, Failed or Cancelled).
type ExecutionEvent struct {
	Kind     ExecutionEventKind
	Data     string        // ExecStdoutData / ExecStderrData chunk
	ExitCode int           // ExecCompleted only
	Duration time.Duration // ExecCompleted only
	Message  string        // ExecFailed only
}

// Terminal reports whether the event ends the stream.
func (e ExecutionEvent) Terminal() bool {
	switch e.Kind {
	case ExecCompleted, ExecFailed, ExecCancelled:
		return true
	}
	return false
}

// EventSink receives execution events in order. Emit returns an error once
// the consumer is gone; producers must propagate that error rather than
// swallow it, because an unobservable result of a side-effecting command is
// as bad as a lost one.
type EventSink interface {
	Emit(event ExecutionEvent) error
}

// CommandExecutor runs one shell command and delivers its event stream to
// the sink. Execute returns after the terminal event has been emitted and
// all execution resources are released. The returned error is nil unless
// event delivery itself failed.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, sink EventSink) error
}
