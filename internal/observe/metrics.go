// Package observe provides observability primitives for stagecue:
// OpenTelemetry metrics with a Prometheus scrape bridge, tracing, and HTTP
// middleware tying the two together.
//
// Dispatch emits job lifecycle events; [Metrics.Status] turns them into
// counters and latency histograms without the scheduler knowing about
// telemetry. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] rather than [DefaultMetrics] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all stagecue metrics.
const meterName = "github.com/stagecue/stagecue"

// Metrics holds the metric instruments for the dispatch pipeline. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// SynthDuration tracks one speech-synthesis provider call. Attributes:
	//   provider, status.
	SynthDuration metric.Float64Histogram

	// JobDuration tracks a job from activation to its terminal state,
	// covering synthesis and playback together. Attributes: kind, state.
	JobDuration metric.Float64Histogram

	// StopLatency tracks the preemption hard stop, from the decision to
	// the device going silent.
	StopLatency metric.Float64Histogram

	// Jobs counts terminal job outcomes. Attributes: kind, state, reason.
	Jobs metric.Int64Counter

	// ChatEvents counts inbound viewer messages. Attributes: platform,
	// matched.
	ChatEvents metric.Int64Counter

	// DeviceFailures counts audio output device errors.
	DeviceFailures metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path.
	HTTPRequestDuration metric.Float64Histogram

	// Status bridge state, see bridge.go.
	bridge statusBridge
}

// latencyBuckets (seconds) cover the spans this pipeline cares about: a
// hard stop must land well under 200ms, synthesis in low seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}
	met.bridge.active = make(map[string]activeJob)

	if met.SynthDuration, err = m.Float64Histogram("stagecue.synth.duration",
		metric.WithDescription("Latency of one speech-synthesis provider call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("stagecue.job.duration",
		metric.WithDescription("Job lifetime from activation to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StopLatency, err = m.Float64Histogram("stagecue.preempt.stop_latency",
		metric.WithDescription("Time from preemption decision to device silence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Jobs, err = m.Int64Counter("stagecue.jobs",
		metric.WithDescription("Terminal job outcomes by kind, state, and reason."),
	); err != nil {
		return nil, err
	}
	if met.ChatEvents, err = m.Int64Counter("stagecue.chat.events",
		metric.WithDescription("Inbound viewer messages by platform and match result."),
	); err != nil {
		return nil, err
	}
	if met.DeviceFailures, err = m.Int64Counter("stagecue.audio.device_failures",
		metric.WithDescription("Audio output device errors."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("stagecue.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterQueueDepth exposes the dispatch queue depth as an observable
// gauge. fn is called at collection time.
func (m *Metrics) RegisterQueueDepth(fn func() int64) error {
	_, err := m.meter.Int64ObservableGauge("stagecue.queue.depth",
		metric.WithDescription("Jobs waiting in the dispatch queue."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}

// RecordChatEvent counts one inbound viewer message.
func (m *Metrics) RecordChatEvent(ctx context.Context, platform string, matched bool) {
	m.ChatEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Bool("matched", matched),
	))
}

// RecordSynthesis records one provider call.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SynthDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordDeviceFailure counts one audio device error.
func (m *Metrics) RecordDeviceFailure(ctx context.Context) {
	m.DeviceFailures.Add(ctx, 1)
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from the global provider. Panics if instrument creation
// fails, which the global provider never does.
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
