// Package observe provides application-wide observability primitives for
// Voicewire: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voicewire metrics.
const meterName = "github.com/voicewirehq/voicewire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long opening a transport session takes.
	ConnectDuration metric.Float64Histogram

	// SendDuration tracks the latency of a single outbound chunk delivery.
	SendDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureChunks counts audio chunks produced by the capture pipeline.
	CaptureChunks metric.Int64Counter

	// OutboundSent counts chunks successfully delivered to the transport.
	OutboundSent metric.Int64Counter

	// OutboundDropped counts chunks evicted from a full outbound queue.
	OutboundDropped metric.Int64Counter

	// PlaybackChunks counts audio chunks handed to the playback scheduler.
	PlaybackChunks metric.Int64Counter

	// PlaybackSeconds accumulates the audio duration scheduled for playback.
	PlaybackSeconds metric.Float64Counter

	// GapsBridged counts the times the playback clock had drained and a new
	// chunk restarted from the live device clock.
	GapsBridged metric.Int64Counter

	// Turns counts turn-complete boundaries signalled by the remote peer.
	Turns metric.Int64Counter

	// StateTransitions counts session state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// SessionFailures counts sessions that ended in the failed state. Use with
	// attribute: attribute.String("reason", ...)
	SessionFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voicewire.session.connect.duration",
		metric.WithDescription("Latency of opening a transport session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("voicewire.outbound.send.duration",
		metric.WithDescription("Latency of delivering one outbound audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureChunks, err = m.Int64Counter("voicewire.capture.chunks",
		metric.WithDescription("Total audio chunks produced by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.OutboundSent, err = m.Int64Counter("voicewire.outbound.sent",
		metric.WithDescription("Total chunks delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.OutboundDropped, err = m.Int64Counter("voicewire.outbound.dropped",
		metric.WithDescription("Total chunks evicted from a full outbound queue."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("voicewire.playback.chunks",
		metric.WithDescription("Total audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeconds, err = m.Float64Counter("voicewire.playback.seconds",
		metric.WithDescription("Total audio duration scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.GapsBridged, err = m.Int64Counter("voicewire.playback.gaps_bridged",
		metric.WithDescription("Times playback restarted from the live device clock after draining."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voicewire.turns",
		metric.WithDescription("Total turn-complete boundaries signalled by the remote peer."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voicewire.session.transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.SessionFailures, err = m.Int64Counter("voicewire.session.failures",
		metric.WithDescription("Total sessions that ended in the failed state, by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicewire.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicewire.http.request.duration",
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

// RecordCaptureChunk is a convenience method that counts one captured chunk.
func (m *Metrics) RecordCaptureChunk(ctx context.Context) {
	m.CaptureChunks.Add(ctx, 1)
}

// RecordOutboundSent is a convenience method that counts one delivered chunk.
func (m *Metrics) RecordOutboundSent(ctx context.Context) {
	m.OutboundSent.Add(ctx, 1)
}

// RecordOutboundDropped is a convenience method that counts one evicted chunk.
func (m *Metrics) RecordOutboundDropped(ctx context.Context) {
	m.OutboundDropped.Add(ctx, 1)
}

// RecordPlayback is a convenience method that counts one scheduled chunk and
// accumulates its duration in seconds.
func (m *Metrics) RecordPlayback(ctx context.Context, seconds float64) {
	m.PlaybackChunks.Add(ctx, 1)
	m.PlaybackSeconds.Add(ctx, seconds)
}

// RecordGapBridged is a convenience method that counts one drained-clock
// restart.
func (m *Metrics) RecordGapBridged(ctx context.Context) {
	m.GapsBridged.Add(ctx, 1)
}

// RecordTurn is a convenience method that counts one turn boundary.
func (m *Metrics) RecordTurn(ctx context.Context) {
	m.Turns.Add(ctx, 1)
}

// RecordTransition is a convenience method that records a session state
// transition with the standard attribute set.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordFailure is a convenience method that records a failed session with its
// reason.
func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	m.SessionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
