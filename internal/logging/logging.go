// Package logging builds the slog loggers shared by the anchor daemon and the
// send, recv and ctl tools.
//
// Every long-lived component gets a child logger tagged with its name through
// Component, and stream events use the Key constants below so that text and
// JSON output carry the same attribute names.
package logging

import (
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Levels lists the accepted log_level values, most verbose first.
var Levels = []string{"debug", "info", "warn", "error"}

// Formats lists the accepted log_format values.
var Formats = []string{"text", "json"}

// NewLogger creates a logger writing to stderr.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w. Unknown levels fall back
// to info and unknown formats to text. At debug level records also carry the
// source position.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ValidLevel reports whether level is one of Levels.
func ValidLevel(level string) bool {
	return slices.Contains(Levels, level)
}

// ValidFormat reports whether format is one of Formats.
func ValidFormat(format string) bool {
	return slices.Contains(Formats, format)
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

// Component returns a child of logger tagged with the component name. A nil
// logger yields a discarding one.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = NopLogger()
	}
	return logger.With(slog.String(KeyComponent, name))
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Attribute keys.
const (
	KeyComponent  = "component"
	KeyError      = "error"
	KeyAddress    = "address"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeyTarget     = "target"
	KeyCommand    = "command"
	KeyChunks     = "chunks"
	KeyBytes      = "bytes"
	KeyCount      = "count"
	KeyDuration   = "duration"
	KeySource     = "sample_source"
)
