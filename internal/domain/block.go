package domain

import (
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// BlockState represents the lifecycle state of a command block.
type BlockState string

const (
	// BlockStateEditing is the initial state: the command text may still change.
	BlockStateEditing BlockState = "editing"
	// BlockStateRunning means the command has been handed to an executor.
	BlockStateRunning BlockState = "running"
	// BlockStateSuccess means the process exited with code 0.
	BlockStateSuccess BlockState = "success"
	// BlockStateFailed means the process exited non-zero or execution failed.
	BlockStateFailed BlockState = "failed"
	// BlockStateCancelled means execution was interrupted on request.
	BlockStateCancelled BlockState = "cancelled"
	// BlockStateTimedOut is reserved for deadline-driven interruption.
	// No component sets it today; callers that cancel on a deadline may.
	BlockStateTimedOut BlockState = "timed_out"
)

// IsTerminal reports whether the state admits no further transitions.
func (s BlockState) IsTerminal() bool {
	switch s {
	case BlockStateSuccess, BlockStateFailed, BlockStateCancelled, BlockStateTimedOut:
		return true
	}
	return false
}

// CommandBlock is the unit of execution and result: one issued command plus
// its captured output, exit status and timing. Blocks are not goroutine-safe;
// exactly one driver owns a block for its whole lifetime.
type CommandBlock struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Output     string         `json:"output"`
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr"`
	ExitCode   *int           `json:"exit_code,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   *time.Duration `json:"duration,omitempty"`
	State      BlockState     `json:"state"`
	WorkingDir string         `json:"working_dir"`
}

// NewCommandBlock creates a block in the editing state. The working directory
// is captured now, not at execution time.
func NewCommandBlock(command, workingDir string) *CommandBlock {
	return &CommandBlock{
		ID:         newBlockID(),
		Command:    command,
		State:      BlockStateEditing,
		StartedAt:  time.Now(),
		WorkingDir: workingDir,
	}
}

// SetCommand replaces the command text. Only legal while editing.
func (b *CommandBlock) SetCommand(command string) error {
	if b.State != BlockStateEditing {
		return NewSubSystemError("block", "CommandBlock.SetCommand", ErrBlockNotEditing, string(b.State))
	}
	b.Command = command
	return nil
}

// StartExecution transitions the block from editing to running and stamps
// the start time.
func (b *CommandBlock) StartExecution() error {
	if b.State != BlockStateEditing {
		return NewSubSystemError("block", "CommandBlock.StartExecution", ErrBlockNotEditing, string(b.State))
	}
	b.State = BlockStateRunning
	b.StartedAt = time.Now()
	return nil
}

// AppendOutput appends a chunk to the stdout or stderr buffer and, always,
// to the unified output buffer. Arrival order is the only ordering.
// Appending to a terminal block is a programming error: the chunk is
// rejected so the caller can log it.
func (b *CommandBlock) AppendOutput(text string, isStderr bool) error {
	if b.State.IsTerminal() {
		return NewSubSystemError("block", "CommandBlock.AppendOutput", ErrBlockTerminal, string(b.State))
	}
	if isStderr {
		b.Stderr += text
	} else {
		b.Stdout += text
	}
	b.Output += text
	return nil
}

// Complete records the exit code and duration and derives the terminal state:
// success for exit code 0, failed otherwise.
func (b *CommandBlock) Complete(exitCode int, duration time.Duration) error {
	if b.State != BlockStateRunning {
		return NewSubSystemError("block", "CommandBlock.Complete", ErrBlockNotRunning, string(b.State))
	}
	b.ExitCode = &exitCode
	b.Duration = &duration
	if exitCode == 0 {
		b.State = BlockStateSuccess
	} else {
		b.State = BlockStateFailed
	}
	return nil
}

// Fail marks the block failed without process-completion data. Used when
// execution itself broke (spawn or wait failure); any exit code already
// captured is left untouched.
func (b *CommandBlock) Fail() error {
	if b.State.IsTerminal() {
		return NewSubSystemError("block", "CommandBlock.Fail", ErrBlockTerminal, string(b.State))
	}
	b.State = BlockStateFailed
	return nil
}

// Cancel marks the block cancelled. Carries no exit code and no duration.
func (b *CommandBlock) Cancel() error {
	if b.State.IsTerminal() {
		return NewSubSystemError("block", "CommandBlock.Cancel", ErrBlockTerminal, string(b.State))
	}
	b.State = BlockStateCancelled
	return nil
}

// IsComplete reports whether the block reached a terminal state.
func (b *CommandBlock) IsComplete() bool {
	return b.State.IsTerminal()
}

// Summary returns a one-line description for listings.
func (b *CommandBlock) Summary() string {
	first := b.Command
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	s := string(b.State) + " " + first
	if b.Duration != nil {
		s += " (" + b.Duration.Round(time.Millisecond).String() + ")"
	}
	return s
}

func newBlockID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
