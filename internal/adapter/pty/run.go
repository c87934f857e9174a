//go:build !windows

package pty

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"ai-terminal/internal/domain"
)

// Execute runs `<shell> -c <command>` attached to a fresh PTY and delivers
// the event stream to sink: Started, zero or more StdoutData chunks, then
// exactly one terminal event. The command string is passed to the shell
// verbatim; policy approval is the caller's responsibility.
//
// Setup, spawn and wait failures are reported as a Failed event, not as a
// returned error. Cancelling ctx kills the child's process group and yields
// a Cancelled event. Execute returns a non-nil error only when sink delivery
// fails, which is fatal for the invocation and must not be ignored.
//
// The reader is joined before the terminal event is emitted, so no event
// ever follows it, and the PTY master is closed on every path.
func (e *Executor) Execute(ctx context.Context, command string, sink domain.EventSink) error {
	start := time.Now()
	e.logger.Info("executing command", "command", command, "shell", e.shell, "working_dir", e.workingDir)

	if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
		return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, err.Error())
	}

	cmd := exec.Command(e.shell, "-c", command)
	cmd.Dir = e.workingDir

	// StartWithSize puts the child in its own session with the PTY slave as
	// its controlling terminal, so the whole process group hangs off the PTY.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: e.rows, Cols: e.cols})
	if err != nil {
		e.logger.Error("pty setup failed", "command", command, "error", err)
		return e.emitFailed(sink, domain.WrapOp("open pty", err).Error())
	}
	defer func() { _ = ptmx.Close() }()

	// Dedicated reader: PTY I/O is not reliably poll-compatible, so a
	// goroutine blocks on the master and forwards scrubbed chunks. sinkErr
	// is read only after the reader is joined.
	var (
		wg      sync.WaitGroup
		sinkErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, e.readBufSize)
		for {
			n, rerr := ptmx.Read(buf)
			if n > 0 {
				if chunk := scrub(buf[:n]); chunk != "" {
					if serr := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStdoutData, Data: chunk}); serr != nil {
						sinkErr = serr
						// Consumer gone: without a reader the child can
						// block forever writing into a full PTY buffer.
						// Kill the group so Wait returns.
						if cmd.Process != nil {
							_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
						}
						return
					}
				}
			}
			if rerr != nil {
				if !expectedReadEnd(rerr) {
					// The stream truncates here; process exit is still
					// observed and the terminal event stays correct.
					e.logger.Warn("pty read error", "error", rerr)
				}
				return
			}
		}
	}()

	// Kill watcher: bridges ctx cancellation to the child's process group.
	var killed atomic.Bool
	waitDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			killed.Store(true)
			if cmd.Process != nil {
				// Negative pid: the whole group attached to the PTY.
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	<-watcherDone

	// Join the reader before emitting any terminal event. Normally the
	// child's exit closes the slave and the reader sees EOF; if an orphaned
	// grandchild still holds the slave, force-close the master.
	readerDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(readerDone)
	}()
	select {
	case <-readerDone:
	case <-time.After(drainDeadline):
		e.logger.Warn("pty reader did not drain, closing master", "command", command)
		_ = ptmx.Close()
		<-readerDone
	}

	if sinkErr != nil {
		return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, sinkErr.Error())
	}

	if killed.Load() {
		e.logger.Info("command cancelled", "command", command, "elapsed", time.Since(start))
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecCancelled}); err != nil {
			return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, err.Error())
		}
		return nil
	}

	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			e.logger.Error("process wait failed", "command", command, "error", waitErr)
			return e.emitFailed(sink, domain.WrapOp("wait", waitErr).Error())
		}
	}

	exitCode := cmd.ProcessState.ExitCode()
	duration := time.Since(start)
	e.logger.Info("command completed", "command", command, "exit_code", exitCode, "duration", duration)

	if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: exitCode, Duration: duration}); err != nil {
		return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, err.Error())
	}
	return nil
}

func (e *Executor) emitFailed(sink domain.EventSink, message string) error {
	if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecFailed, Message: message}); err != nil {
		return domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, err.Error())
	}
	return nil
}

// expectedReadEnd reports whether a PTY master read error is the normal
// end-of-stream signal rather than a mid-stream failure. Linux returns EIO
// once the last slave descriptor is closed; a force-closed master surfaces
// as ErrClosed.
func expectedReadEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)
}
