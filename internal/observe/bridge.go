package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagecue/stagecue/internal/dispatch"
)

// activeJob is one job between activation and its terminal event.
type activeJob struct {
	startNanos int64
	span       trace.Span
}

// statusBridge remembers activation state so terminal events can be turned
// into job durations and closed spans. Jobs dropped before activation simply
// never appear here.
type statusBridge struct {
	mu     sync.Mutex
	active map[string]activeJob
}

func (b *statusBridge) start(id string, at time.Time, span trace.Span) {
	b.mu.Lock()
	b.active[id] = activeJob{startNanos: at.UnixNano(), span: span}
	b.mu.Unlock()
}

func (b *statusBridge) take(id string) (time.Time, trace.Span, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.active[id]
	if !ok {
		return time.Time{}, nil, false
	}
	delete(b.active, id)
	return time.Unix(0, job.startNanos), job.span, true
}

// Status consumes one dispatch lifecycle event. Register it as a status
// callback; it records and returns without blocking.
func (m *Metrics) Status(ev dispatch.StatusEvent) {
	ctx := context.Background()
	id := ev.JobID.String()

	switch ev.State {
	case dispatch.JobActive:
		_, span := StartSpan(ctx, "dispatch.job", trace.WithAttributes(
			attribute.String("job_id", id),
			attribute.String("kind", ev.Kind.String()),
		))
		m.bridge.start(id, ev.At, span)

	case dispatch.JobCompleted, dispatch.JobPreempted, dispatch.JobDropped:
		m.Jobs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", ev.Kind.String()),
			attribute.String("state", ev.State.String()),
			attribute.String("reason", ev.Reason),
		))
		if started, span, ok := m.bridge.take(id); ok {
			m.JobDuration.Record(ctx, ev.At.Sub(started).Seconds(), metric.WithAttributes(
				attribute.String("kind", ev.Kind.String()),
				attribute.String("state", ev.State.String()),
			))
			span.SetAttributes(attribute.String("state", ev.State.String()))
			span.End()
		}
		if ev.State == dispatch.JobPreempted && ev.StopLatency > 0 {
			m.StopLatency.Record(ctx, ev.StopLatency.Seconds())
		}
	}
}
