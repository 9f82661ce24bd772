package experience

import (
	"log/slog"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// DefaultComponentViewTrackingThreshold applies when no plugin asks for a
// threshold.
const DefaultComponentViewTrackingThreshold = 2 * time.Second

// pipelineConfig holds construction options.
type pipelineConfig struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	storage        storage.Storage
	store          profile.Store
	policies       consent.Policies
	queueCapacity  int
	anonymousIDTTL time.Duration
	eventContext   event.Context
	experiences    []bucket.Experience
	shared         *registry.Shared
	now            func() time.Time
}

func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		policies:       consent.DefaultPolicies(),
		queueCapacity:  consent.DefaultQueueCapacity,
		anonymousIDTTL: storage.DefaultAnonymousIDTTL,
		now:            time.Now,
	}
}

// Option configures a Pipeline.
type Option func(*pipelineConfig)

// WithLogger sets the structured logger. Default: slog.Default().
// A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *pipelineConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(c *pipelineConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for dispatches and plugin hooks.
func WithTracing(enabled bool) Option {
	return func(c *pipelineConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithStorage sets the durable storage holding the anonymous id and consent.
// Default: a fresh in-memory storage owned and closed by the pipeline.
func WithStorage(s storage.Storage) Option {
	return func(c *pipelineConfig) {
		c.storage = s
	}
}

// WithProfileStore sets the external profile store.
// Default: an in-process profile.MemoryStore.
func WithProfileStore(s profile.Store) Option {
	return func(c *pipelineConfig) {
		c.store = s
	}
}

// WithPolicies sets the consent policy table.
// Default: consent.DefaultPolicies().
func WithPolicies(p consent.Policies) Option {
	return func(c *pipelineConfig) {
		c.policies = p
	}
}

// WithQueueCapacity bounds the blocked-event queue.
func WithQueueCapacity(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithAnonymousIDTTL sets how long a generated anonymous id is kept.
func WithAnonymousIDTTL(ttl time.Duration) Option {
	return func(c *pipelineConfig) {
		if ttl > 0 {
			c.anonymousIDTTL = ttl
		}
	}
}

// WithEventContext sets the context stamped onto events built by the
// pipeline, such as the current page URL and locale.
func WithEventContext(ctx event.Context) Option {
	return func(c *pipelineConfig) {
		c.eventContext = ctx
	}
}

// WithExperiences registers experiences so component events referencing
// them are resolved to the visitor's assignment.
func WithExperiences(exps ...bucket.Experience) Option {
	return func(c *pipelineConfig) {
		c.experiences = append(c.experiences, exps...)
	}
}

// WithShared supplies the shared debug context handed to plugins.
// Default: a new registry.Shared per pipeline.
func WithShared(s *registry.Shared) Option {
	return func(c *pipelineConfig) {
		c.shared = s
	}
}
