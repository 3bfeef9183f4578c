package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the msgflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("msgflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span covering the dispatch of one message.
	StartDispatchSpan(ctx context.Context, messageID, dispatchID string) (context.Context, trace.Span)

	// StartConsumerSpan starts a span for one consumer invocation.
	// The consumer span should be a child of the dispatch span.
	StartConsumerSpan(ctx context.Context, condition, consumer string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
// A nil tracer means the package tracer.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// NewSpanManagerWithProvider returns a SpanManager that creates spans from tp
// instead of the global provider.
func NewSpanManagerWithProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer("msgflow")}
}

func (m *otelSpanManager) tr() trace.Tracer {
	if m.tracer != nil {
		return m.tracer
	}
	return tracer
}

// StartDispatchSpan starts a span for a message dispatch.
func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, messageID, dispatchID string) (context.Context, trace.Span) {
	return m.tr().Start(ctx, "msgflow.dispatch",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("dispatch.id", dispatchID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartConsumerSpan starts a span for a consumer invocation.
func (m *otelSpanManager) StartConsumerSpan(ctx context.Context, condition, consumer string) (context.Context, trace.Span) {
	return m.tr().Start(ctx, "msgflow.consumer."+consumer,
		trace.WithAttributes(
			attribute.String("condition", condition),
			attribute.String("consumer", consumer),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
