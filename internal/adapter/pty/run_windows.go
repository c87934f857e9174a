//go:build windows

package pty

import (
	"context"

	"ai-terminal/internal/domain"
)

// Execute is not supported on Windows: the engine depends on POSIX PTY
// semantics (process groups, EIO on slave close). The failure surfaces as a
// Failed event before the block ever reaches running, like any other setup
// failure.
func (e *Executor) Execute(_ context.Context, command string, sink domain.EventSink) error {
	e.logger.Error("pty execution unsupported on windows", "command", command)
	return e.emitFailed(sink, "pty execution requires a POSIX platform")
}

func (e *Executor) emitFailed(sink domain.EventSink, message string) error {
	if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecFailed, Message: message}); err != nil {
		return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, err.Error())
	}
	return nil
}
