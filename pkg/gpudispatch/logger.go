package gpudispatch

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// traceIDKey is the context key for the per-connection trace ID.
type traceIDKey struct{}

// Logger wraps slog.Logger with trace ID support.
type Logger struct {
	*slog.Logger
	traceEnabled bool
}

// NewLogger creates a new logger with the specified configuration.
func NewLogger(cfg LoggingConfig) *Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger:       slog.New(handler),
		traceEnabled: cfg.TraceEnabled,
	}
}

// WithTraceID stamps a fresh trace ID onto the context. The front-end
// calls this once per accepted connection so every log line for that
// request, including the worker IPC hop, can be correlated.
func WithTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey{}, uuid.NewString())
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok
}

func (l *Logger) withTrace(ctx context.Context, args []any) []any {
	if l.traceEnabled {
		if traceID, ok := GetTraceID(ctx); ok {
			args = append([]any{"trace_id", traceID}, args...)
		}
	}
	return args
}

// InfoContext logs an info message with the trace ID if enabled.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withTrace(ctx, args)...)
}

// ErrorContext logs an error message with the trace ID if enabled.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withTrace(ctx, args)...)
}

// DebugContext logs a debug message with the trace ID if enabled.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withTrace(ctx, args)...)
}

// WarnContext logs a warning message with the trace ID if enabled.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withTrace(ctx, args)...)
}

// WithWorker returns a logger with the worker index attached.
func (l *Logger) WithWorker(w int) *Logger {
	return &Logger{Logger: l.Logger.With("worker", w), traceEnabled: l.traceEnabled}
}

// WithGPU returns a logger with the GPU index attached.
func (l *Logger) WithGPU(gpu int) *Logger {
	return &Logger{Logger: l.Logger.With("gpu", gpu), traceEnabled: l.traceEnabled}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
