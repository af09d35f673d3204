// Package logging builds the structured logger shared across every Babble
// component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/babblehq/babble/internal/config"
	"github.com/rs/zerolog"
)

// New creates a zerolog.Logger configured per cfg.LogLevel/cfg.LogFormat.
//
// Mirrors the teacher's monitoring.NewLogger: JSON to stdout by default,
// a human-readable console writer when LogFormat is "pretty", timestamp
// and service name attached once at the root so every derived logger
// (via .With()) inherits them.
func New(cfg *config.Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch config.LogLevel(cfg.LogLevel) {
	case config.LogLevelDebug:
		level = zerolog.DebugLevel
	case config.LogLevelWarn:
		level = zerolog.WarnLevel
	case config.LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.LogFormat(cfg.LogFormat) == config.LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "babble-server").
		Logger()
}
