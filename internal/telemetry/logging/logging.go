// Package logging provides the structured, context-correlated logger every
// process constructs once at startup and threads through its components.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Logger is the minimal interface components depend on.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

type correlatedLogger struct {
	base *slog.Logger
}

// New wraps base (or the default slog logger if base is nil) with trace
// correlation. process and component are attached to every record.
func New(base *slog.Logger, process, component string) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base.With("process", process, "component", component)}
}

// NewJSON builds a process logger writing structured JSON lines to
// os.Stdout, the shape every cmd/ binary in this tree uses.
func NewJSON(process, component string, level slog.Leveler) Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return New(slog.New(handler), process, component)
}

func (l *correlatedLogger) with(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l.base
	}
	return l.base.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.with(ctx).Info(msg, args...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.with(ctx).Warn(msg, args...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.with(ctx).Error(msg, args...)
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.with(ctx).Debug(msg, args...)
}

func (l *correlatedLogger) With(args ...any) Logger {
	return &correlatedLogger{base: l.base.With(args...)}
}
