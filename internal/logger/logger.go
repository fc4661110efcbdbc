// Package logger provides the process-wide structured logger. Log calls
// take a context so records can be correlated with the active trace
// span when tracing is enabled.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	globalLogger *slog.Logger
	logLevel     slog.Level
)

// Config holds logging configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json or text
}

// Init initializes the global logger from environment variables.
func Init() error {
	return InitWithConfig(Config{
		Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	})
}

// InitWithConfig initializes the global logger with the given settings.
func InitWithConfig(cfg Config) error {
	logLevel = parseLogLevel(cfg.Level)

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getTraceAttrs extracts trace ID and span ID from context for logging.
func getTraceAttrs(ctx context.Context) []any {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return []any{
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	}
}

// Debug logs a debug message.
func Debug(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info message.
func Info(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning message.
func Warn(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error message.
func Error(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelError, msg, args...)
}

// ErrorWithErr logs an error message with an error object and records
// the error on the active span when one is present.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	allArgs := append([]any{"error", err}, args...)
	logWithTrace(ctx, slog.LevelError, msg, allArgs...)
}

func logWithTrace(ctx context.Context, level slog.Level, msg string, args ...any) {
	if globalLogger == nil {
		globalLogger = slog.Default()
	}
	if traceAttrs := getTraceAttrs(ctx); traceAttrs != nil {
		args = append(traceAttrs, args...)
	}
	globalLogger.Log(ctx, level, msg, args...)
}
