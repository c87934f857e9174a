package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-terminal/internal/domain"
	"ai-terminal/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor replays a scripted event stream into the sink.
type fakeExecutor struct {
	mu         sync.Mutex
	workingDir string
	script     func(ctx context.Context, command string, sink domain.EventSink) error
}

func (f *fakeExecutor) Execute(ctx context.Context, command string, sink domain.EventSink) error {
	return f.script(ctx, command, sink)
}

func (f *fakeExecutor) WorkingDir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workingDir
}

func (f *fakeExecutor) SetWorkingDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workingDir = dir
}

// emitAll is a script helper: Started, the given chunks, then the terminal.
func emitAll(sink domain.EventSink, chunks []string, terminal domain.ExecutionEvent) error {
	if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStdoutData, Data: c}); err != nil {
			return err
		}
	}
	return sink.Emit(terminal)
}

func newTestRunner(exec *fakeExecutor, bus domain.EventBus) *Runner {
	return New(exec, bus, NewHistory(0), testLogger(), Config{})
}

func TestRunSuccess(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, []string{"one ", "two"},
			domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: 5 * time.Millisecond})
	}
	r := newTestRunner(exec, nil)

	block, err := r.Run(context.Background(), "echo one two")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if block.State != domain.BlockStateSuccess {
		t.Errorf("state = %s, want %s", block.State, domain.BlockStateSuccess)
	}
	if block.Output != "one two" {
		t.Errorf("output = %q, want %q", block.Output, "one two")
	}
	if block.ExitCode == nil || *block.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", block.ExitCode)
	}
	if block.Duration == nil || *block.Duration != 5*time.Millisecond {
		t.Errorf("duration = %v, want 5ms", block.Duration)
	}
	if block.WorkingDir != "/tmp" {
		t.Errorf("working dir = %q, want /tmp", block.WorkingDir)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, nil,
			domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 3, Duration: time.Millisecond})
	}
	r := newTestRunner(exec, nil)

	block, err := r.Run(context.Background(), "false")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if block.State != domain.BlockStateFailed {
		t.Errorf("state = %s, want %s", block.State, domain.BlockStateFailed)
	}
	if block.ExitCode == nil || *block.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", block.ExitCode)
	}
}

func TestRunFailedEvent(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, nil,
			domain.ExecutionEvent{Kind: domain.ExecFailed, Message: "spawn blew up"})
	}
	r := newTestRunner(exec, nil)

	block, err := r.Run(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if block.State != domain.BlockStateFailed {
		t.Errorf("state = %s, want %s", block.State, domain.BlockStateFailed)
	}
	if block.ExitCode != nil {
		t.Errorf("exit code = %v, want nil for failure without exit", *block.ExitCode)
	}
	if want := "[error: spawn blew up]"; !strings.Contains(block.Stderr, want) {
		t.Errorf("stderr = %q, want it to contain %q", block.Stderr, want)
	}
}

func TestRunCancel(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(ctx context.Context, _ string, sink domain.EventSink) error {
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
			return err
		}
		<-ctx.Done()
		return sink.Emit(domain.ExecutionEvent{Kind: domain.ExecCancelled})
	}
	r := newTestRunner(exec, nil)

	type result struct {
		block domain.CommandBlock
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		b, err := r.Run(context.Background(), "sleep 60")
		resultCh <- result{b, err}
	}()

	// Wait for the block to be registered and running.
	var blockID string
	deadline := time.After(2 * time.Second)
	for blockID == "" {
		select {
		case <-deadline:
			t.Fatal("block never started")
		default:
		}
		for _, b := range r.List() {
			if b.State == domain.BlockStateRunning {
				blockID = b.ID
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Cancel(blockID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	res := <-resultCh
	if res.err != nil {
		t.Fatalf("Run: %v", res.err)
	}
	if res.block.State != domain.BlockStateCancelled {
		t.Errorf("state = %s, want %s", res.block.State, domain.BlockStateCancelled)
	}
	if res.block.ExitCode != nil {
		t.Error("cancelled block must not carry an exit code")
	}
}

func TestCancelUnknownBlock(t *testing.T) {
	r := newTestRunner(&fakeExecutor{workingDir: "/tmp"}, nil)
	err := r.Cancel("no-such-block")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRunBrokenStreamPropagatesError(t *testing.T) {
	sinkErr := domain.NewSubSystemError("pty", "Executor.Execute", domain.ErrSinkClosed, "consumer gone")
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
			return err
		}
		return sinkErr
	}
	r := newTestRunner(exec, nil)

	block, err := r.Run(context.Background(), "echo hi")
	if !errors.Is(err, domain.ErrSinkClosed) {
		t.Fatalf("error = %v, want ErrSinkClosed propagated", err)
	}
	if block.State != domain.BlockStateFailed {
		t.Errorf("state = %s, want %s", block.State, domain.BlockStateFailed)
	}
}

func TestRunMissingTerminalEvent(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted})
	}
	r := newTestRunner(exec, nil)

	block, err := r.Run(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The block must still end terminal even though the stream broke.
	if block.State != domain.BlockStateFailed {
		t.Errorf("state = %s, want %s", block.State, domain.BlockStateFailed)
	}
}

func TestRunConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
			return err
		}
		<-release
		return sink.Emit(domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: time.Millisecond})
	}
	r := New(exec, nil, NewHistory(0), testLogger(), Config{MaxConcurrent: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Run(context.Background(), "first"); err != nil {
			t.Errorf("first Run: %v", err)
		}
	}()

	deadline := time.After(2 * time.Second)
	for len(r.List()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never registered")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	_, err := r.Run(context.Background(), "second")
	if !errors.Is(err, domain.ErrLimitReached) {
		t.Errorf("error = %v, want ErrLimitReached", err)
	}

	close(release)
	<-done
}

func TestSetWorkingDirBusy(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		if err := sink.Emit(domain.ExecutionEvent{Kind: domain.ExecStarted}); err != nil {
			return err
		}
		<-release
		return sink.Emit(domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: time.Millisecond})
	}
	r := newTestRunner(exec, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), "long")
	}()

	deadline := time.After(2 * time.Second)
	for len(r.List()) == 0 {
		select {
		case <-deadline:
			t.Fatal("run never registered")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	err := r.SetWorkingDir(context.Background(), t.TempDir())
	if !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("error = %v, want ErrSessionBusy", err)
	}

	close(release)
	<-done

	// After the run finishes the change goes through.
	dir := t.TempDir()
	if err := r.SetWorkingDir(context.Background(), dir); err != nil {
		t.Fatalf("SetWorkingDir: %v", err)
	}
	if got := r.WorkingDir(); got != dir {
		t.Errorf("working dir = %q, want %q", got, dir)
	}
}

func TestSetWorkingDirResolution(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := filepath.Join(base, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	exec := &fakeExecutor{workingDir: base}
	r := newTestRunner(exec, nil)

	if err := r.SetWorkingDir(context.Background(), "sub"); err != nil {
		t.Fatalf("relative: %v", err)
	}
	if got := r.WorkingDir(); got != sub {
		t.Errorf("relative resolved to %q, want %q", got, sub)
	}

	if err := r.SetWorkingDir(context.Background(), base); err != nil {
		t.Fatalf("absolute: %v", err)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		if err := r.SetWorkingDir(context.Background(), "~"); err != nil {
			t.Fatalf("tilde: %v", err)
		}
		if got := r.WorkingDir(); got != home {
			t.Errorf("tilde resolved to %q, want %q", got, home)
		}
	}

	if err := r.SetWorkingDir(context.Background(), filepath.Join(base, "missing")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing dir error = %v, want ErrNotFound", err)
	}
	if err := r.SetWorkingDir(context.Background(), file); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("file target error = %v, want ErrInvalidInput", err)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	var mu sync.Mutex
	var seen []domain.EventType
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, []string{"chunk"},
			domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: time.Millisecond})
	}
	r := newTestRunner(exec, bus)

	if _, err := r.Run(context.Background(), "echo chunk"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Dispatch is asynchronous; wait for the terminal event to land.
	want := map[domain.EventType]int{
		domain.EventCommandStarted:   1,
		domain.EventCommandOutput:    1,
		domain.EventCommandCompleted: 1,
	}
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		got := make(map[domain.EventType]int)
		for _, et := range seen {
			got[et]++
		}
		mu.Unlock()

		ok := true
		for et, n := range want {
			if got[et] != n {
				ok = false
			}
		}
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("event counts = %v, want %v", got, want)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestGetAndList(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, nil,
			domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: time.Millisecond})
	}
	r := newTestRunner(exec, nil)

	first, err := r.Run(context.Background(), "echo one")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := r.Run(context.Background(), "echo two")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := r.Get(first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Command != "echo one" {
		t.Errorf("Get command = %q, want %q", got.Command, "echo one")
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Error("List not in creation order")
	}
}

func TestRunRecordsHistory(t *testing.T) {
	exec := &fakeExecutor{workingDir: "/tmp"}
	exec.script = func(_ context.Context, _ string, sink domain.EventSink) error {
		return emitAll(sink, nil,
			domain.ExecutionEvent{Kind: domain.ExecCompleted, ExitCode: 0, Duration: time.Millisecond})
	}
	r := newTestRunner(exec, nil)

	if _, err := r.Run(context.Background(), "ls -la"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	recent := r.History().Recent(0)
	if len(recent) != 1 || recent[0].Command != "ls -la" {
		t.Errorf("history = %+v, want one entry %q", recent, "ls -la")
	}
}
