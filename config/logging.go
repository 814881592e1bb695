package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel converts a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}

// SetupLogger builds the command logger: text on stderr and, when
// log.file is set, JSON appended to that file. The returned function
// closes the file.
func SetupLogger(c LogConfig) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.File == "" {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return slog.New(h), func() error { return nil }, nil
	}

	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open log file: %w", err)
	}
	return SetupLoggerWithWriters(os.Stderr, f, level), f.Close, nil
}

// SetupLoggerWithWriters fans records out to a text handler on stderr
// and a JSON handler on file.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	text := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	js := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(text, js))
}
