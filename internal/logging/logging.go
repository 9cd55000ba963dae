package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger: JSON lines on stderr, mirrored to logFile
// when one is configured. The logger also becomes the slog default. Callers
// must defer the returned cleanup.
func New(level, logFile string) (*slog.Logger, func(), error) {
	var (
		out     io.Writer = os.Stderr
		cleanup           = func() {}
	)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := newLogger(out, ParseLevel(level))
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func newLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).
		With("app", "siteoptic")
}

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
