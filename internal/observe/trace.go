package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every parley span.
const tracerName = "github.com/MrWong99/parley"

// Span attribute keys shared by session spans and log lines.
const (
	KeySessionID = "session_id"
	KeyUserID    = "user_id"
)

// Tracer returns the parley tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. Session identifiers stored with
// [WithSession] are attached as attributes. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if s, ok := ctx.Value(sessionKey{}).(sessionInfo); ok {
		opts = append(opts, trace.WithAttributes(s.attributes()...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type sessionKey struct{}

type sessionInfo struct {
	sessionID string
	userID    string
}

func (s sessionInfo) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(KeySessionID, s.sessionID)}
	if s.userID != "" {
		attrs = append(attrs, attribute.String(KeyUserID, s.userID))
	}
	return attrs
}

// WithSession returns a context carrying the session and user identifiers.
// [Logger] and [StartSpan] pick them up.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionInfo{sessionID: sessionID, userID: userID})
}

// SessionID returns the session identifier stored by [WithSession], or "".
func SessionID(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return s.sessionID
}

// Logger returns the default logger enriched with the trace and span IDs of
// the active span and with the session identifiers stored in ctx.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if s, ok := ctx.Value(sessionKey{}).(sessionInfo); ok {
		attrs = append(attrs, slog.String(KeySessionID, s.sessionID))
		if s.userID != "" {
			attrs = append(attrs, slog.String(KeyUserID, s.userID))
		}
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
