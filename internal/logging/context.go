package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type testNameCtxKey struct{}
type backendCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if name := TestNameFromContext(ctx); name != "" {
		fields = append(fields, zap.String("test", name))
	}
	if backend := BackendFromContext(ctx); backend != "" {
		fields = append(fields, zap.String("backend", backend))
	}
	return fields
}

// WithTestName tags the context with the running test's name.
func WithTestName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, testNameCtxKey{}, name)
}

// TestNameFromContext returns the test name, or "".
func TestNameFromContext(ctx context.Context) string {
	s, _ := ctx.Value(testNameCtxKey{}).(string)
	return s
}

// WithBackend tags the context with the backend kind under test.
func WithBackend(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, backendCtxKey{}, kind)
}

// BackendFromContext returns the backend kind, or "".
func BackendFromContext(ctx context.Context) string {
	s, _ := ctx.Value(backendCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
