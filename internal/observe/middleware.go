package observe

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute is the route label of requests no mux pattern claimed.
const unmatchedRoute = "unmatched"

// Probes and scrapes only show up at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// Middleware traces and times every request served by a [http.ServeMux].
//
// An incoming W3C traceparent is continued and the trace ID is echoed as
// X-Correlation-ID. [Metrics.HTTPRequestDuration] is labelled with the mux
// pattern, never the raw path. A WebSocket upgrade holds its request open
// for the life of the socket, so the recorded duration is the connected time.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &httpObserver{next: next, metrics: m}
	}
}

type httpObserver struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (o *httpObserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := StartSpan(o.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)), "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	o.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	o.next.ServeHTTP(rw, r)

	// Pattern is only known once the mux has routed the request.
	if r.Pattern != "" {
		span.SetName("HTTP " + r.Pattern)
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
	o.finish(ctx, r, rw.status, time.Since(start))
}

func (o *httpObserver) finish(ctx context.Context, r *http.Request, status int, took time.Duration) {
	route := cmp.Or(r.Pattern, unmatchedRoute)
	o.metrics.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))

	level := slog.LevelInfo
	if quietRoutes[route] {
		level = slog.LevelDebug
	}
	Logger(ctx).LogAttrs(ctx, level, "request completed",
		slog.String("route", route),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", took),
	)
}

// responseWriter remembers the status the handler chose.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to a WebSocket upgrader.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: connection cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
