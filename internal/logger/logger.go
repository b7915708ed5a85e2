// Package logger provides structured audit logging using Go 1.21's
// log/slog. Trading actions that change money or posture (manual orders,
// mode flips, panic exits) get a JSON audit line with a trace ID carried
// through context.Context, so a fill can be matched back to the request
// that caused it.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a JSON logger for the given service and installs it as the
// slog default. The service name is embedded in every line.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)
	return logger
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// Audit emits one structured line for a state-changing trading action.
// The trace ID from ctx, if any, is appended to the attributes.
func Audit(ctx context.Context, l *slog.Logger, action string, attrs ...any) {
	if tid := TraceID(ctx); tid != "" {
		attrs = append(attrs, slog.String("trace_id", tid))
	}
	l.Info(action, attrs...)
}
