// Package config loads and validates the terminal configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TerminalConfig holds the execution engine settings.
type TerminalConfig struct {
	Shell          string `yaml:"shell"`            // empty: resolve from $SHELL
	WorkingDir     string `yaml:"working_dir"`      // empty: current directory
	Rows           uint16 `yaml:"rows"`             // terminal geometry (default: 24)
	Cols           uint16 `yaml:"cols"`             // terminal geometry (default: 80)
	ReadBufferSize int    `yaml:"read_buffer_size"` // PTY read chunk size (default: 4096)
	MaxConcurrent  int    `yaml:"max_concurrent"`   // concurrent executions (default: 4)
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// HistoryConfig holds in-memory command history settings.
type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"` // default: 1000
}

// Config is the top-level application configuration.
type Config struct {
	Terminal TerminalConfig `yaml:"terminal"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	History  HistoryConfig  `yaml:"history"`
}

// Defaults returns a configuration with all defaults applied.
func Defaults() *Config {
	return &Config{
		Terminal: TerminalConfig{
			Rows:           24,
			Cols:           80,
			ReadBufferSize: 4096,
			MaxConcurrent:  4,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		History: HistoryConfig{
			MaxEntries: 1000,
		},
	}
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies AITERM_* environment variables over cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AITERM_SHELL"); v != "" {
		cfg.Terminal.Shell = v
	}
	if v := os.Getenv("AITERM_WORKING_DIR"); v != "" {
		cfg.Terminal.WorkingDir = v
	}
	if v := os.Getenv("AITERM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AITERM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AITERM_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("AITERM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AITERM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AITERM_HISTORY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxEntries = n
		}
	}
}
