package profile

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	ttl     time.Duration
	builder *event.Builder
	cookie  storage.CookieOptions
	newID   func() string

	features func() []consent.Feature
	clientIP string
}

func defaultOptions() options {
	return options{
		metrics: observability.NoopMetrics{},
		ttl:     storage.DefaultAnonymousIDTTL,
		newID:   uuid.NewString,
	}
}

// Option configures a Manager or ServerResolver.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithAnonymousIDTTL sets how long the anonymous id persists.
// Default: 365 days.
func WithAnonymousIDTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithEventBuilder sets the builder used for the page-view upsert, so it
// carries the caller's url, referrer, and locale.
func WithEventBuilder(b *event.Builder) Option {
	return func(o *options) {
		o.builder = b
	}
}

// WithCookieOptions configures the cookie written by ServerResolver.
func WithCookieOptions(c storage.CookieOptions) Option {
	return func(o *options) {
		o.cookie = c
	}
}

// WithIDGenerator overrides anonymous id generation. Default: random UUID.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithFeatures sets the source of the consent features attached to every
// upsert. It is called per request, so consent changes apply immediately.
func WithFeatures(fn func() []consent.Feature) Option {
	return func(o *options) {
		o.features = fn
	}
}

func withClientIP(ip string) Option {
	return func(o *options) {
		o.clientIP = ip
	}
}
