// Package logger provides structured logging for the workflow engine.
//
// It wraps Go's standard log/slog with a process-wide default logger,
// environment-driven level control, and a context-aware handler that
// automatically attaches execution-scoped fields (execution id, workflow
// name, agent, checkpoint id) to every record logged through a context.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// DefaultLogger is the global structured logger instance. It is safe for
// concurrent use and writes text records to stderr.
var DefaultLogger *slog.Logger

func init() {
	DefaultLogger = newLogger(levelFromEnv())
}

// levelFromEnv reads LOG_LEVEL and maps it to a slog level, defaulting to
// info.
func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewContextHandler(handler))
}

// SetLevel changes the logging level for all subsequent log operations.
// Safe for concurrent use: it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	DefaultLogger = newLogger(level)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise
// restores info-level. Convenience wrapper for verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// With returns a child of the default logger carrying the given attributes.
// Components hold one of these instead of re-passing the same fields on
// every call.
func With(args ...any) *slog.Logger {
	return DefaultLogger.With(args...)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message enriched with any
// execution-scoped fields carried by the context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context-derived fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context-derived fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context-derived fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}
