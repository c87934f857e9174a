package config

import (
	"fmt"
	"os"
)

// Validate checks cfg for values that would break at runtime. It returns the
// first problem found.
func Validate(cfg *Config) error {
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger.level: unknown level %q", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format: unknown format %q", cfg.Logger.Format)
	}

	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		return fmt.Errorf("tracer.exporter: unknown exporter %q", cfg.Tracer.Exporter)
	}

	if cfg.Terminal.ReadBufferSize < 0 {
		return fmt.Errorf("terminal.read_buffer_size: must be positive, got %d", cfg.Terminal.ReadBufferSize)
	}
	if cfg.Terminal.MaxConcurrent < 0 {
		return fmt.Errorf("terminal.max_concurrent: must be positive, got %d", cfg.Terminal.MaxConcurrent)
	}
	if cfg.Terminal.WorkingDir != "" {
		info, err := os.Stat(cfg.Terminal.WorkingDir)
		if err != nil {
			return fmt.Errorf("terminal.working_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("terminal.working_dir: %s is not a directory", cfg.Terminal.WorkingDir)
		}
	}

	if cfg.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries: must be positive, got %d", cfg.History.MaxEntries)
	}
	return nil
}
