// Package logging builds the application's structured loggers. All log
// output goes to stderr; stdout is reserved for generated scripts.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// DefaultConfig returns the stderr text logger at info level.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Default returns the stderr text logger at info level.
func Default() *slog.Logger {
	return New(DefaultConfig())
}

// New creates a structured logger from the configuration.
func New(config Config) *slog.Logger {
	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// WithSource tags a logger with the target being inspected and the
// source kind resolved for it.
func WithSource(logger *slog.Logger, target, source string) *slog.Logger {
	return logger.With("target", target, "source", source)
}
