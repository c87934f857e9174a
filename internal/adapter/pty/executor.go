// Package pty runs shell commands inside a pseudo-terminal and streams
// their output as ordered execution events.
package pty

import (
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"ai-terminal/internal/domain"
)

const (
	// DefaultRows and DefaultCols are the terminal geometry used when the
	// config leaves it unset.
	DefaultRows uint16 = 24
	DefaultCols uint16 = 80

	// defaultReadBufferSize is the PTY read chunk size.
	defaultReadBufferSize = 4096

	// drainDeadline bounds how long we wait for the reader to see EOF after
	// the child has been reaped. A background child that inherited the PTY
	// slave can keep it open forever; past the deadline the master is closed
	// to unblock the reader, truncating the stream but never reordering it.
	drainDeadline = 3 * time.Second
)

// Config holds the execution configuration for an Executor.
type Config struct {
	Shell          string // resolved from $SHELL when empty
	WorkingDir     string // process working directory, current dir when empty
	Rows, Cols     uint16 // terminal geometry
	ReadBufferSize int    // PTY read chunk size in bytes
}

// Executor owns the execution configuration (shell, working directory,
// geometry) and performs the spawn/read/wait sequence for one command per
// Execute call. It is a configuration value, not a live OS resource: the PTY
// pair, child process and reader goroutine are owned exclusively by one
// in-flight call and released on every exit path.
//
// The configuration is single-writer: callers must serialize SetWorkingDir
// and Resize against in-flight Execute calls on the same value.
type Executor struct {
	shell       string
	workingDir  string
	rows, cols  uint16
	readBufSize int
	logger      *slog.Logger
}

// New creates an Executor, resolving the shell and working directory from the
// environment where the config leaves them empty.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = DefaultShell()
	}
	workingDir := cfg.WorkingDir
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, domain.WrapOp("pty.New: resolve working dir", err)
		}
		workingDir = wd
	}
	rows, cols := cfg.Rows, cfg.Cols
	if rows == 0 {
		rows = DefaultRows
	}
	if cols == 0 {
		cols = DefaultCols
	}
	readBufSize := cfg.ReadBufferSize
	if readBufSize <= 0 {
		readBufSize = defaultReadBufferSize
	}
	return &Executor{
		shell:       shell,
		workingDir:  workingDir,
		rows:        rows,
		cols:        cols,
		readBufSize: readBufSize,
		logger:      logger,
	}, nil
}

// DefaultShell resolves the shell from $SHELL, falling back to the platform
// default.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	return "/bin/bash"
}

// Shell returns the configured shell.
func (e *Executor) Shell() string { return e.shell }

// WorkingDir returns the configured working directory.
func (e *Executor) WorkingDir() string { return e.workingDir }

// SetWorkingDir changes the working directory for subsequent executions.
func (e *Executor) SetWorkingDir(dir string) { e.workingDir = dir }

// Resize changes the terminal geometry for subsequent executions.
func (e *Executor) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return domain.NewSubSystemError("pty", "Executor.Resize", domain.ErrInvalidInput, "geometry must be non-zero")
	}
	e.rows, e.cols = rows, cols
	return nil
}

// scrub strips terminal escape sequences from a raw PTY chunk and replaces
// invalid UTF-8 so the stored output is plain text. Escape sequences split
// across read boundaries can leak fragments; that matches the chunk-at-a-time
// contract and never reorders data.
func scrub(raw []byte) string {
	s := ansi.Strip(string(raw))
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}
