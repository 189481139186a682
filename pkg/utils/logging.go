package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevelEnv selects the log level of the command-line tools.
const LogLevelEnv = "CHIQUI_LOG_LEVEL"

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// selects warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// NewLogger returns a text logger on w at the level named by LogLevelEnv.
func NewLogger(w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv(LogLevelEnv)),
	})
	return slog.New(handler)
}
