// Command terminal is a thin driver around the execution engine: it wires
// config, logging, tracing and the event bus, then runs commands either
// one-shot (-c) or from an interactive line loop.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/term"

	"ai-terminal/internal/adapter/pty"
	"ai-terminal/internal/domain"
	"ai-terminal/internal/infra/config"
	"ai-terminal/internal/infra/logger"
	"ai-terminal/internal/infra/tracer"
	"ai-terminal/internal/usecase/eventbus"
	"ai-terminal/internal/usecase/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	oneShot := flag.String("c", "", "run a single command and exit")
	flag.Parse()

	exitCode, err := run(*configPath, *oneShot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func run(configPath, oneShot string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return 0, err
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		return 0, err
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	// Logging collaborator: every lifecycle event lands in the debug log.
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		log.Debug("event", "type", string(e.Type), "block_id", e.BlockID)
	})

	executor, err := pty.New(pty.Config{
		Shell:          cfg.Terminal.Shell,
		WorkingDir:     cfg.Terminal.WorkingDir,
		Rows:           cfg.Terminal.Rows,
		Cols:           cfg.Terminal.Cols,
		ReadBufferSize: cfg.Terminal.ReadBufferSize,
	}, log)
	if err != nil {
		return 0, err
	}

	history := runner.NewHistory(cfg.History.MaxEntries)
	r := runner.New(executor, bus, history, log, runner.Config{
		MaxConcurrent: cfg.Terminal.MaxConcurrent,
	})

	if oneShot != "" {
		return runOnce(r, oneShot)
	}
	return 0, interactive(r, log)
}

// runOnce executes one command and maps the block's result onto the process
// exit code.
func runOnce(r *runner.Runner, command string) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	block, err := r.Run(ctx, command)
	if err != nil {
		return 0, err
	}
	fmt.Print(block.Output)

	switch block.State {
	case domain.BlockStateSuccess:
		return 0, nil
	case domain.BlockStateCancelled:
		return 130, nil
	default:
		if block.ExitCode != nil {
			return *block.ExitCode, nil
		}
		return 1, nil
	}
}

func interactive(r *runner.Runner, log *slog.Logger) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("interactive mode needs a terminal; use -c for one-shot execution")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s $ ", r.WorkingDir())
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "exit" || line == "quit":
			return nil
		case line == "history":
			for _, e := range r.History().Recent(20) {
				fmt.Println(e.Command)
			}
		case line == "cd" || strings.HasPrefix(line, "cd "):
			dir := strings.TrimSpace(strings.TrimPrefix(line, "cd"))
			if err := r.SetWorkingDir(context.Background(), dir); err != nil {
				fmt.Fprintf(os.Stderr, "cd: %v\n", err)
			}
		default:
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			block, err := r.Run(ctx, line)
			stop()
			if err != nil {
				log.Error("execution failed", "command", line, "error", err)
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			fmt.Print(block.Output)
			if !strings.HasSuffix(block.Output, "\n") && block.Output != "" {
				fmt.Println()
			}
			fmt.Println(block.Summary())
		}
	}
}
