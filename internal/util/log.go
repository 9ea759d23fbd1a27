// Package util provides shared utility functions for logging, retries, rate
// limiting, and trading calendar operations.
package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger creates a structured zerolog logger at the specified level.
// Supported levels: "debug", "info", "warn", "error". Defaults to "info" if
// the level string is not recognised. Format "console" (or "text") writes
// human-readable lines to stderr; anything else writes JSON to stdout.
func NewLogger(level, format string) zerolog.Logger {
	return newLogger(level, format, nil)
}

func newLogger(level, format string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer
	switch strings.ToLower(format) {
	case "console", "text":
		if out == nil {
			out = os.Stderr
		}
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	default:
		if out == nil {
			out = os.Stdout
		}
		w = out
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// SetDefault configures the provided logger as the global zerolog logger.
func SetDefault(logger zerolog.Logger) {
	log.Logger = logger
}
