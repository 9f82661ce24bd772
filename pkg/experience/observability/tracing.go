package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("experience")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span covering one event dispatch.
	StartDispatchSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span)

	// StartPluginSpan starts a child span for one plugin hook.
	StartPluginSpan(ctx context.Context, plugin, hook string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses the global OTel tracer
// provider. Configure the provider before dispatching:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span) {
	return StartDispatchSpan(ctx, eventType, messageID)
}

func (m *otelSpanManager) StartPluginSpan(ctx context.Context, plugin, hook string) (context.Context, trace.Span) {
	return StartPluginSpan(ctx, plugin, hook)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartDispatchSpan starts an "experience.dispatch" span using the global tracer.
func StartDispatchSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "experience.dispatch",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.message_id", messageID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartPluginSpan starts an "experience.plugin.<name>" span using the global tracer.
func StartPluginSpan(ctx context.Context, plugin, hook string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "experience.plugin."+plugin,
		trace.WithAttributes(
			attribute.String("plugin.name", plugin),
			attribute.String("plugin.hook", hook),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
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
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
