package prosody

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName is the scope name for prosody spans and metrics
const instrumentationName = "github.com/RyanBlaney/sonido-prosody/prosody"

// Metric names
const (
	MetricStageDuration = "prosody.stage.duration"
	MetricRuns          = "prosody.runs"
)

// stageBuckets are histogram boundaries (seconds) for per-stage latency
var stageBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// telemetry records a span and a duration observation per pipeline stage
type telemetry struct {
	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	m := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.stageDuration, err = m.Float64Histogram(MetricStageDuration,
		metric.WithDescription("Duration of a prosody pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if t.runs, err = m.Int64Counter(MetricRuns,
		metric.WithDescription("Prosody pipeline runs by status."),
	); err != nil {
		return nil, err
	}
	return t, nil
}

// startStage opens a span for state. The returned function closes it and
// records the stage duration; pass the stage's error, or nil.
func (t *telemetry) startStage(ctx context.Context, state State, branch string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "prosody."+state.String(),
		trace.WithAttributes(
			attribute.String("stage", state.String()),
			attribute.String("branch", branch),
		),
	)
	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		t.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("stage", state.String()),
			attribute.String("branch", branch),
			attribute.String("status", status),
		))
	}
}

// recordRun counts a finished run
func (t *telemetry) recordRun(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
