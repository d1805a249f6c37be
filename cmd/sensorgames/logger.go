package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Log output formats for logging.format.
const (
	logFormatText = "text"
	logFormatJSON = "json"
)

// parseLogLevel accepts error, warn (or warning), info and debug in any case.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

// newLogger builds the daemon logger from cfg. Every record carries the
// app name so kiosk journals can be filtered when several daemons share one.
func newLogger(w io.Writer, cfg LoggingConfig) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.Format {
	case "", logFormatText:
		h = slog.NewTextHandler(w, opts)
	case logFormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be %s or %s)", cfg.Format, logFormatText, logFormatJSON)
	}
	return slog.New(h).With("app", appName), nil
}
