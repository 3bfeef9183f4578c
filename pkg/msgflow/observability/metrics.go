package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records msgflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueue records an enqueue attempt and whether it was admitted.
	RecordEnqueue(ctx context.Context, accepted bool)

	// RecordSubscription records a subscribe call and its outcome.
	RecordSubscription(ctx context.Context, condition string, err error)

	// RecordDispatch records a completed dispatch of one message.
	RecordDispatch(ctx context.Context, groupsMatched int, duration time.Duration)

	// RecordInvocation records one consumer invocation after its retry loop.
	RecordInvocation(ctx context.Context, consumer string, attempts int, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueued        metric.Int64Counter
	subscriptions   metric.Int64Counter
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	groupsMatched   metric.Int64Histogram
	invocations     metric.Int64Counter
	attempts        metric.Int64Histogram
	abandoned       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("msgflow")

	enqueued, err := meter.Int64Counter("msgflow.messages.enqueued",
		metric.WithDescription("Number of enqueue attempts, by admission outcome"),
	)
	if err != nil {
		return nil, err
	}

	subscriptions, err := meter.Int64Counter("msgflow.subscriptions",
		metric.WithDescription("Number of subscribe calls, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter("msgflow.dispatches",
		metric.WithDescription("Number of completed message dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("msgflow.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	groupsMatched, err := meter.Int64Histogram("msgflow.dispatch.groups_matched",
		metric.WithDescription("Number of condition groups matched per message"),
	)
	if err != nil {
		return nil, err
	}

	invocations, err := meter.Int64Counter("msgflow.consumer.invocations",
		metric.WithDescription("Number of consumer invocations, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Histogram("msgflow.consumer.attempts",
		metric.WithDescription("Attempts used per consumer invocation"),
	)
	if err != nil {
		return nil, err
	}

	abandoned, err := meter.Int64Counter("msgflow.consumer.abandoned",
		metric.WithDescription("Number of consumer invocations abandoned after retries"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueued:        enqueued,
		subscriptions:   subscriptions,
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		groupsMatched:   groupsMatched,
		invocations:     invocations,
		attempts:        attempts,
		abandoned:       abandoned,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEnqueue records an enqueue attempt.
func (m *otelMetrics) RecordEnqueue(ctx context.Context, accepted bool) {
	m.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}

// RecordSubscription records a subscribe call.
func (m *otelMetrics) RecordSubscription(ctx context.Context, condition string, err error) {
	m.subscriptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("condition", condition),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordDispatch records a completed dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, groupsMatched int, duration time.Duration) {
	m.dispatches.Add(ctx, 1)
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds())/1000)
	m.groupsMatched.Record(ctx, int64(groupsMatched))
}

// RecordInvocation records a consumer invocation.
func (m *otelMetrics) RecordInvocation(ctx context.Context, consumer string, attempts int, _ time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("consumer", consumer),
	}

	m.invocations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome(err)))...))
	m.attempts.Record(ctx, int64(attempts), metric.WithAttributes(attrs...))

	if err != nil {
		m.abandoned.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
