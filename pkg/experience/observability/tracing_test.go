package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func attributeKey(k string) attribute.Key { return attribute.Key(k) }

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("experience")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("experience")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
	})
	return exporter
}

func spanAttr(s tracetest.SpanStub, key string) string {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestDispatchSpanWithPluginChild(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, dispatch := sm.StartDispatchSpan(context.Background(), "track", "msg-1")
	_, plugin := sm.StartPluginSpan(ctx, "buffer", "track")
	sm.EndSpanWithError(plugin, nil)
	sm.EndSpanWithError(dispatch, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	child, parent := spans[0], spans[1]
	assert.Equal(t, "experience.plugin.buffer", child.Name)
	assert.Equal(t, "track", spanAttr(child, "plugin.hook"))
	assert.Equal(t, "experience.dispatch", parent.Name)
	assert.Equal(t, "msg-1", spanAttr(parent, "event.message_id"))
	assert.Equal(t, parent.SpanContext.SpanID(), child.Parent.SpanID())
	assert.Equal(t, codes.Ok, parent.Status.Code)
}

func TestEndSpanWithErrorRecordsError(t *testing.T) {
	exporter := setupTracingTest(t)

	_, span := StartPluginSpan(context.Background(), "broken", "page")
	EndSpanWithError(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestAddSpanEvent(t *testing.T) {
	exporter := setupTracingTest(t)

	ctx, span := StartDispatchSpan(context.Background(), "page", "msg-2")
	AddSpanEvent(ctx, "consent.redacted", attribute.Int("fields", 2))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "consent.redacted", spans[0].Events[0].Name)

	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "no span")
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartDispatchSpan(ctx, "page", "m")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	_, span = sm.StartPluginSpan(ctx, "p", "page")
	assert.Equal(t, trace.SpanContext{}, span.SpanContext())
	sm.EndSpanWithError(span, errors.New("ignored"))
	sm.AddSpanEvent(ctx, "ignored")
}
