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

// Dispatch outcomes recorded on experience.events.dispatched.
const (
	OutcomeDelivered = "delivered"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one dispatch and its outcome.
	RecordDispatch(ctx context.Context, eventType, outcome string, duration time.Duration)

	// RecordRedaction records fields removed from an event.
	RecordRedaction(ctx context.Context, eventType string, fields int)

	// RecordPluginCall records a plugin hook invocation.
	RecordPluginCall(ctx context.Context, plugin, hook string, duration time.Duration, err error)

	// RecordProfileUpsert records a profile store upsert.
	RecordProfileUpsert(ctx context.Context, op string, err error)
}

type otelMetrics struct {
	dispatched     metric.Int64Counter
	dispatchTime   metric.Float64Histogram
	redacted       metric.Int64Counter
	pluginLatency  metric.Float64Histogram
	pluginErrors   metric.Int64Counter
	profileUpserts metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("experience")

	dispatched, err := meter.Int64Counter("experience.events.dispatched",
		metric.WithDescription("Number of dispatched events by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	dispatchTime, err := meter.Float64Histogram("experience.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	redacted, err := meter.Int64Counter("experience.events.redacted_fields",
		metric.WithDescription("Number of fields removed by consent redaction"),
	)
	if err != nil {
		return nil, err
	}

	pluginLatency, err := meter.Float64Histogram("experience.plugin.latency_ms",
		metric.WithDescription("Plugin hook latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pluginErrors, err := meter.Int64Counter("experience.plugin.errors",
		metric.WithDescription("Number of failed plugin hook invocations"),
	)
	if err != nil {
		return nil, err
	}

	profileUpserts, err := meter.Int64Counter("experience.profile.upserts",
		metric.WithDescription("Number of profile store upserts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatched:     dispatched,
		dispatchTime:   dispatchTime,
		redacted:       redacted,
		pluginLatency:  pluginLatency,
		pluginErrors:   pluginErrors,
		profileUpserts: profileUpserts,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
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

func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	m.dispatched.Add(ctx, 1, attrs)
	m.dispatchTime.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordRedaction(ctx context.Context, eventType string, fields int) {
	if fields <= 0 {
		return
	}
	m.redacted.Add(ctx, int64(fields), metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

func (m *otelMetrics) RecordPluginCall(ctx context.Context, plugin, hook string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("plugin", plugin),
		attribute.String("hook", hook),
	)
	m.pluginLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.pluginErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordProfileUpsert(ctx context.Context, op string, err error) {
	m.profileUpserts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	))
}
