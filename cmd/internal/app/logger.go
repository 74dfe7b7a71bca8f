package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a structured logger with an explicit level and installs
// it as the default. format "pretty" selects the human-readable handler
// (colored when stdout is a terminal); anything else logs JSON.
func NewLogger(level, format string) *slog.Logger {
	log := slog.New(newHandler(os.Stdout, level, format, isTerminal(os.Stdout)))
	slog.SetDefault(log)
	return log
}

func newHandler(w io.Writer, level, format string, color bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}
	if strings.EqualFold(strings.TrimSpace(format), "pretty") {
		return newPrettyHandler(w, opts, color)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	if EnvString("NO_COLOR", "") != "" {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
