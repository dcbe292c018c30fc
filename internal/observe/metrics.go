// Package observe provides application-wide observability primitives for
// pushtalk: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] so the instruments can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pushtalk metrics.
const meterName = "github.com/MrWong99/pushtalk"

// Status values for [Metrics.RecordConnect].
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Realtime connection ---

	// ConnectAttempts counts websocket dial attempts. Use with attribute:
	//   attribute.String("status", ...)
	ConnectAttempts metric.Int64Counter

	// ConnectDuration tracks how long a websocket dial took.
	ConnectDuration metric.Float64Histogram

	// ActiveGenerations tracks live connection generations (0 or 1).
	ActiveGenerations metric.Int64UpDownCounter

	// --- Traffic ---

	// MessagesSent counts messages written to the socket. Use with attribute:
	//   attribute.String("type", ...)
	MessagesSent metric.Int64Counter

	// MessagesDropped counts outbound messages discarded before sending.
	// Use with attribute:
	//   attribute.String("reason", ...)
	MessagesDropped metric.Int64Counter

	// Transcripts counts completed transcription events received.
	Transcripts metric.Int64Counter

	// --- Errors ---

	// SendErrors counts failed socket writes.
	SendErrors metric.Int64Counter

	// ReceiveErrors counts failed socket reads, excluding clean closes.
	ReceiveErrors metric.Int64Counter

	// --- Push-to-talk / capture ---

	// PTTSessions counts capture sessions started by key-down.
	PTTSessions metric.Int64Counter

	// InputLevel records the RMS level of captured blocks (0..1).
	InputLevel metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// levelBuckets covers RMS input levels from near silence to full scale.
var levelBuckets = []float64{
	0.001, 0.003, 0.01, 0.03, 0.1, 0.3, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Connection.
	if met.ConnectAttempts, err = m.Int64Counter("pushtalk.realtime.connects",
		metric.WithDescription("Total realtime websocket dial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("pushtalk.realtime.connect.duration",
		metric.WithDescription("Latency of realtime websocket dials."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveGenerations, err = m.Int64UpDownCounter("pushtalk.realtime.active_generations",
		metric.WithDescription("Number of live realtime connection generations."),
	); err != nil {
		return nil, err
	}

	// Traffic.
	if met.MessagesSent, err = m.Int64Counter("pushtalk.realtime.messages.sent",
		metric.WithDescription("Total messages written to the realtime socket by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesDropped, err = m.Int64Counter("pushtalk.realtime.messages.dropped",
		metric.WithDescription("Total outbound messages discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("pushtalk.realtime.transcripts",
		metric.WithDescription("Total completed transcription events received."),
	); err != nil {
		return nil, err
	}

	// Errors.
	if met.SendErrors, err = m.Int64Counter("pushtalk.realtime.send.errors",
		metric.WithDescription("Total failed realtime socket writes."),
	); err != nil {
		return nil, err
	}
	if met.ReceiveErrors, err = m.Int64Counter("pushtalk.realtime.receive.errors",
		metric.WithDescription("Total failed realtime socket reads."),
	); err != nil {
		return nil, err
	}

	// Push-to-talk and capture.
	if met.PTTSessions, err = m.Int64Counter("pushtalk.ptt.sessions",
		metric.WithDescription("Total push-to-talk capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Histogram("pushtalk.audio.input_rms",
		metric.WithDescription("RMS level of captured audio blocks."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pushtalk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnect records one dial attempt and its latency.
func (m *Metrics) RecordConnect(ctx context.Context, status string, d time.Duration) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordSent records one message written to the socket.
func (m *Metrics) RecordSent(ctx context.Context, msgType string) {
	m.MessagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordDropped records n outbound messages discarded for reason.
func (m *Metrics) RecordDropped(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.MessagesDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
