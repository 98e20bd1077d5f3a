// Package logging configures the process logger. Hook invocations must keep
// stdout clean for the runtime, so their diagnostics go to a log file under
// the state directory; interactive commands log to stderr.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a logger writing to out at the given level. The level falls
// back to info when unrecognized; AGENTWATCH_LOG_LEVEL overrides the
// configured value.
func New(out io.Writer, level string) zerolog.Logger {
	if env := os.Getenv("AGENTWATCH_LOG_LEVEL"); env != "" {
		level = env
	}
	return zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewFile builds a logger appending to <stateDir>/agentwatch.log. The
// returned closer flushes the file; on any setup error the logger degrades
// to a no-op rather than failing the invocation.
func NewFile(stateDir, level string) (zerolog.Logger, func() error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return zerolog.Nop(), func() error { return nil }
	}
	path := filepath.Join(stateDir, "agentwatch.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), func() error { return nil }
	}
	return New(f, level), f.Close
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Console returns a human-readable stderr logger for interactive commands.
func Console(level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return New(out, level)
}
