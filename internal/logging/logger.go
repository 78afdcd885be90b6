// Package logging builds the process-wide *slog.Logger every core
// component takes as a constructor argument. Logging always goes to
// stderr, adapted from the teacher's internal/logging/logger.go global
// stdlib logger into a single slog.Logger per LOG_LEVEL, since every new
// component here (runtime, git, swc, terminal, janitor) is built against
// log/slog, not the teacher's custom Info/Debug/Error globals.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a text-handler slog.Logger writing to stderr at the given
// level ("debug", "info", "warn", "error"; unrecognized values fall back
// to info).
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
