// Package observe wires parley into OpenTelemetry. It provides the metric
// instruments of the voice pipeline, span and log helpers that carry the
// session and user IDs, the provider setup bridging metrics to Prometheus,
// and the HTTP middleware for the server surface.
//
// Components take a *[Metrics] through their options. Production code uses
// [DefaultMetrics], bound to the global meter provider installed by
// [InitProvider]. Tests build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/parley"

// Metrics holds every instrument recorded by parley.
type Metrics struct {
	// ── Latency (seconds) ──

	// TurnDuration spans a turn-based exchange from the end of the
	// utterance to the end of playback.
	TurnDuration metric.Float64Histogram
	// ReplyDuration is the turn-based model reply latency.
	ReplyDuration metric.Float64Histogram
	TTSDuration   metric.Float64Histogram
	// ConnectDuration is the time to reach the remote streaming endpoint.
	ConnectDuration metric.Float64Histogram
	// HTTPRequestDuration is labelled with method, route and status.
	HTTPRequestDuration metric.Float64Histogram

	// ── Audio flow ──

	// FramesForwarded is labelled with mode "local" or "server".
	FramesForwarded metric.Int64Counter
	// FramesMuted counts microphone frames dropped while the assistant spoke.
	FramesMuted metric.Int64Counter
	// BacklogDropped counts frames discarded from a full pending backlog.
	BacklogDropped metric.Int64Counter
	Interruptions  metric.Int64Counter

	// ── Providers ──

	// ProviderRequests is labelled with provider, kind and status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors is labelled with provider and kind.
	ProviderErrors metric.Int64Counter
	// Failovers is labelled with kind, from and to.
	Failovers metric.Int64Counter

	// ── Failures and state ──

	PlaybackWriteErrors metric.Int64Counter
	// PersistenceFailures is labelled with stage "events" or "memory".
	PersistenceFailures metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
}

// latencyBuckets cover voice-pipeline latencies from 10ms to 10s.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// builder creates instruments and keeps every creation error.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	m := &Metrics{
		TurnDuration:        b.latency("parley.turn.duration", "Turn-based exchange from utterance end to playback end."),
		ReplyDuration:       b.latency("parley.reply.duration", "Turn-based model reply latency."),
		TTSDuration:         b.latency("parley.tts.duration", "Text-to-speech synthesis latency."),
		ConnectDuration:     b.latency("parley.connect.duration", "Time to establish the remote streaming connection."),
		HTTPRequestDuration: b.latency("parley.http.request.duration", "HTTP request latency by method, route and status."),

		FramesForwarded: b.counter("parley.frames.forwarded", "Microphone frames forwarded to the remote endpoint."),
		FramesMuted:     b.counter("parley.frames.muted", "Microphone frames dropped while the assistant was speaking."),
		BacklogDropped:  b.counter("parley.backlog.dropped", "Frames discarded because the pending backlog was full."),
		Interruptions:   b.counter("parley.playback.interruptions", "Hard playback interruptions."),

		ProviderRequests: b.counter("parley.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:   b.counter("parley.provider.errors", "Provider errors by provider and kind."),
		Failovers:        b.counter("parley.provider.failovers", "Calls served by a fallback backend."),

		PlaybackWriteErrors: b.counter("parley.playback.write_errors", "Output device open and write failures."),
		PersistenceFailures: b.counter("parley.persistence.failures", "Failed transcript or memory writes at session teardown."),
		ActiveSessions:      b.gauge("parley.sessions.active", "Live voice sessions."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments reach the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordFailover counts a call that moved from one backend to another.
func (m *Metrics) RecordFailover(ctx context.Context, kind, from, to string) {
	m.Failovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordFrameForwarded(ctx context.Context, mode string) {
	m.FramesForwarded.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *Metrics) RecordPersistenceFailure(ctx context.Context, stage string) {
	m.PersistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
