// Package logging builds the daemon's slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/loqalabs/speechd-up/internal/config"
)

// ParseLevel accepts slog level names or the legacy numeric levels 1..5.
func ParseLevel(raw string) (slog.Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(value); err == nil {
		switch {
		case n <= 1:
			return slog.LevelError, nil
		case n == 2:
			return slog.LevelWarn, nil
		case n == 3:
			return slog.LevelInfo, nil
		default:
			return slog.LevelDebug, nil
		}
	}
	switch value {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
}

// New returns a logger writing to cfg.File (stderr when empty). The returned
// closer releases the log file and is safe to call when none was opened.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	return NewWithWriter(out, cfg.Format, level), closer, nil
}

func NewWithWriter(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
