// Package runner drives command executions: it creates command blocks,
// consumes the executor's event stream, applies each event to the owning
// block, and republishes lifecycle events on the session bus.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ai-terminal/internal/domain"
	"ai-terminal/internal/infra/tracer"
)

// Config holds configuration for the Runner.
type Config struct {
	MaxConcurrent int // max concurrent executions (default: 4)
	EventBuffer   int // execution event channel buffer (default: 64)
}

// Executor is the engine the runner drives. *pty.Executor satisfies it.
type Executor interface {
	domain.CommandExecutor
	WorkingDir() string
	SetWorkingDir(dir string)
}

// entry holds the runtime state for one block owned by this runner.
type entry struct {
	block  *domain.CommandBlock
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner owns a session's executor configuration and command blocks.
// Working-directory changes are serialized against in-flight executions;
// each execution gets its own sink, its own PTY and its own block, so
// concurrent runs never share buffers.
type Runner struct {
	executor Executor
	bus      domain.EventBus
	history  *History
	logger   *slog.Logger
	config   Config

	mu       sync.Mutex
	blocks   map[string]*entry
	order    []string
	inflight int
}

// New creates a Runner.
func New(executor Executor, bus domain.EventBus, history *History, logger *slog.Logger, cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if history == nil {
		history = NewHistory(0)
	}
	return &Runner{
		executor: executor,
		bus:      bus,
		history:  history,
		logger:   logger,
		config:   cfg,
		blocks:   make(map[string]*entry),
	}
}

// Run executes a command through the engine and blocks until its block
// reaches a terminal state. The returned block is a snapshot. A non-nil
// error means event delivery broke (the sink was dropped mid-execution);
// it is returned, never swallowed, because the command may have had side
// effects whose result is now unobservable.
func (r *Runner) Run(ctx context.Context, command string) (domain.CommandBlock, error) {
	r.mu.Lock()
	if r.inflight >= r.config.MaxConcurrent {
		r.mu.Unlock()
		return domain.CommandBlock{}, domain.NewSubSystemError("runner", "Runner.Run", domain.ErrLimitReached,
			fmt.Sprintf("%d executions in flight", r.config.MaxConcurrent))
	}
	block := domain.NewCommandBlock(command, r.executor.WorkingDir())
	execCtx, cancel := context.WithCancel(ctx)
	ent := &entry{block: block, cancel: cancel, done: make(chan struct{})}
	r.blocks[block.ID] = ent
	r.order = append(r.order, block.ID)
	r.inflight++
	r.mu.Unlock()

	defer func() {
		cancel()
		close(ent.done)
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	r.history.Add(command)

	ctx, span := tracer.StartSpan(ctx, "command.execute", trace.WithAttributes(
		tracer.StringAttr("command", command),
		tracer.StringAttr("working_dir", block.WorkingDir),
		tracer.StringAttr("block_id", block.ID),
	))
	defer span.End()

	sink := newChannelSink(r.config.EventBuffer)
	defer sink.Close()
	execErr := make(chan error, 1)
	go func() { execErr <- r.executor.Execute(execCtx, command, sink) }()

	var (
		execDone   bool
		execResult error
	)
loop:
	for {
		select {
		case event := <-sink.events:
			if r.apply(ctx, ent, event) {
				break loop
			}
		case execResult = <-execErr:
			execDone = true
			// The executor returned; drain what it managed to emit.
			for {
				select {
				case event := <-sink.events:
					if r.apply(ctx, ent, event) {
						break loop
					}
				default:
					r.applyBrokenStream(ctx, ent, execResult)
					break loop
				}
			}
		}
	}
	if !execDone {
		execResult = <-execErr
	}

	r.mu.Lock()
	snapshot := *ent.block
	r.mu.Unlock()

	if execResult != nil {
		tracer.RecordError(span, execResult)
		return snapshot, execResult
	}
	if snapshot.ExitCode != nil {
		span.SetAttributes(tracer.IntAttr("exit_code", *snapshot.ExitCode))
	}
	if snapshot.State == domain.BlockStateSuccess {
		tracer.SetOK(span)
	}
	return snapshot, nil
}

// apply mutates the block for one execution event and republishes it on the
// bus. Returns true for terminal events. The switch is exhaustive on
// purpose: a new event kind must be handled here, not dropped.
func (r *Runner) apply(ctx context.Context, ent *entry, event domain.ExecutionEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	block := ent.block
	switch event.Kind {
	case domain.ExecStarted:
		if err := block.StartExecution(); err != nil {
			r.logger.Error("start event on non-editing block", "block_id", block.ID, "error", err)
			return false
		}
		r.publish(ctx, domain.EventCommandStarted, block.ID, nil)
		return false

	case domain.ExecStdoutData, domain.ExecStderrData:
		isStderr := event.Kind == domain.ExecStderrData
		if err := block.AppendOutput(event.Data, isStderr); err != nil {
			// Late data after completion is a programming error: log, never apply.
			r.logger.Error("output event on terminal block", "block_id", block.ID, "error", err)
			return false
		}
		r.publish(ctx, domain.EventCommandOutput, block.ID,
			domain.CommandOutputPayload{Data: event.Data, IsStderr: isStderr})
		return false

	case domain.ExecCompleted:
		if err := block.Complete(event.ExitCode, event.Duration); err != nil {
			r.logger.Error("completion event on non-running block", "block_id", block.ID, "error", err)
			return true
		}
		eventType := domain.EventCommandCompleted
		if block.State == domain.BlockStateFailed {
			eventType = domain.EventCommandFailed
		}
		r.publish(ctx, eventType, block.ID, domain.CommandCompletedPayload{
			Command:  block.Command,
			ExitCode: block.ExitCode,
			Duration: event.Duration.String(),
		})
		return true

	case domain.ExecFailed:
		// Diagnostic first: appends are rejected once the state is terminal.
		if err := block.AppendOutput(fmt.Sprintf("\n[error: %s]", event.Message), true); err != nil {
			r.logger.Error("failed-event diagnostic rejected", "block_id", block.ID, "error", err)
		}
		if err := block.Fail(); err != nil {
			r.logger.Error("failure event on terminal block", "block_id", block.ID, "error", err)
			return true
		}
		r.publish(ctx, domain.EventCommandFailed, block.ID, domain.CommandCompletedPayload{
			Command: block.Command,
			Error:   event.Message,
		})
		return true

	case domain.ExecCancelled:
		if err := block.Cancel(); err != nil {
			r.logger.Error("cancel event on terminal block", "block_id", block.ID, "error", err)
			return true
		}
		r.publish(ctx, domain.EventCommandCancelled, block.ID, domain.CommandCompletedPayload{
			Command: block.Command,
		})
		return true

	default:
		r.logger.Error("unhandled execution event kind", "kind", event.Kind.String(), "block_id", block.ID)
		return false
	}
}

// applyBrokenStream closes out a block whose executor returned without a
// terminal event. This only happens when the execution contract was broken
// (e.g. the sink was dropped); the block still must end in a terminal state.
func (r *Runner) applyBrokenStream(ctx context.Context, ent *entry, execErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block := ent.block
	if block.IsComplete() {
		return
	}
	msg := "execution ended without a terminal event"
	if execErr != nil {
		msg = execErr.Error()
	}
	r.logger.Error("execution stream broke", "block_id", block.ID, "error", msg)
	if err := block.AppendOutput(fmt.Sprintf("\n[error: %s]", msg), true); err != nil {
		r.logger.Error("broken-stream diagnostic rejected", "block_id", block.ID, "error", err)
	}
	if err := block.Fail(); err != nil {
		r.logger.Error("broken-stream failure rejected", "block_id", block.ID, "error", err)
		return
	}
	r.publish(ctx, domain.EventCommandFailed, block.ID, domain.CommandCompletedPayload{
		Command: block.Command,
		Error:   msg,
	})
}

// Cancel interrupts a running block and waits for its driver to finish.
func (r *Runner) Cancel(blockID string) error {
	r.mu.Lock()
	ent, ok := r.blocks[blockID]
	if !ok {
		r.mu.Unlock()
		return domain.NewSubSystemError("runner", "Runner.Cancel", domain.ErrNotFound, blockID)
	}
	if ent.block.IsComplete() {
		r.mu.Unlock()
		return domain.NewSubSystemError("runner", "Runner.Cancel", domain.ErrInvalidInput, "block already complete")
	}
	r.mu.Unlock()

	ent.cancel()
	<-ent.done
	return nil
}

// Get returns a snapshot of a block.
func (r *Runner) Get(blockID string) (domain.CommandBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.blocks[blockID]
	if !ok {
		return domain.CommandBlock{}, domain.NewSubSystemError("runner", "Runner.Get", domain.ErrNotFound, blockID)
	}
	return *ent.block, nil
}

// List returns snapshots of all blocks in creation order.
func (r *Runner) List() []domain.CommandBlock {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.CommandBlock, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.blocks[id].block)
	}
	return out
}

// SetWorkingDir changes the session working directory for subsequent
// executions. The change is refused while executions are in flight: the
// executor configuration is single-writer and a mid-run change would make
// the captured working_dir of running blocks a lie.
func (r *Runner) SetWorkingDir(ctx context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight > 0 {
		return domain.NewSubSystemError("runner", "Runner.SetWorkingDir", domain.ErrSessionBusy,
			fmt.Sprintf("%d executions in flight", r.inflight))
	}

	resolved, err := r.resolveDir(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return domain.NewSubSystemError("runner", "Runner.SetWorkingDir", domain.ErrNotFound, resolved)
	}
	if !info.IsDir() {
		return domain.NewSubSystemError("runner", "Runner.SetWorkingDir", domain.ErrInvalidInput, resolved+" is not a directory")
	}

	r.executor.SetWorkingDir(resolved)
	r.logger.Info("working directory changed", "dir", resolved)
	r.publish(ctx, domain.EventWorkingDirChanged, "", map[string]string{"dir": resolved})
	return nil
}

// WorkingDir returns the session's current working directory.
func (r *Runner) WorkingDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executor.WorkingDir()
}

// History returns the session command history.
func (r *Runner) History() *History {
	return r.history
}

func (r *Runner) resolveDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	switch {
	case dir == "" || dir == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", domain.NewSubSystemError("runner", "Runner.SetWorkingDir", domain.ErrInvalidInput, "cannot resolve home: "+err.Error())
		}
		return home, nil
	case strings.HasPrefix(dir, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", domain.NewSubSystemError("runner", "Runner.SetWorkingDir", domain.ErrInvalidInput, "cannot resolve home: "+err.Error())
		}
		return filepath.Join(home, dir[2:]), nil
	case filepath.IsAbs(dir):
		return filepath.Clean(dir), nil
	default:
		return filepath.Join(r.executor.WorkingDir(), dir), nil
	}
}

func (r *Runner) publish(ctx context.Context, eventType domain.EventType, blockID string, payload any) {
	if r.bus == nil {
		return
	}
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	r.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		BlockID:   blockID,
		Payload:   data,
	})
}
