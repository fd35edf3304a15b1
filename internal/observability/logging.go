package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	output       io.Writer = os.Stdout
	defaultLevel           = ParseLogLevel(os.Getenv("REDIRECT_LEDGER_LOGGING_LEVEL"))
)

// Configure sets the level and format used by NewLogger. format is "json"
// or "console". Call it once at startup, before any logger is built.
func Configure(level, format string) {
	defaultLevel = ParseLogLevel(level)
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else {
		output = os.Stdout
	}
}

// NewLogger creates a structured logger for one component. The level
// defaults to REDIRECT_LEDGER_LOGGING_LEVEL, or info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, defaultLevel)
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return NewLoggerTo(output, component, level)
}

// NewLoggerTo writes to w; tests pass a buffer.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a config string to a zerolog level. Unknown values
// fall back to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
