// Package logging constructs the process-wide zerolog logger and
// provides panic containment for long-lived goroutines.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Options selects log level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json (Loki-friendly) or pretty (local dev)
}

// New creates a structured logger with timestamps and a service tag.
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout

	level := zerolog.InfoLevel
	switch opts.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "trader-fabric").
		Logger()
}

// RecoverPanic logs a recovered panic with its stack trace and lets the
// goroutine exit without taking the process down. Use as the first
// defer of every long-lived goroutine.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
