// Package log installs the process-wide slog logger for livetalk binaries.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Init installs the default logger writing to stdout.
func Init(lvl string) *slog.Logger {
	return InitWriter(os.Stdout, lvl)
}

// InitWriter installs the default logger writing to w.
// JSON is used when GO_ENV=production, text otherwise.
func InitWriter(w io.Writer, lvl string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	level.Set(ParseLevel(lvl))
	opts := &slog.HandlerOptions{Level: level}

	if os.Getenv("GO_ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}

	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the installed logger at runtime.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// L returns the global logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return Init("info")
	}
	return l
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
