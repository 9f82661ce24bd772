// Package logdest is a destination that writes one structured log line per
// delivered event. The message of each line is rendered from a per-event-type
// template:
//
//	dest := logdest.New(logger, logdest.WithTemplate(event.TypeTrack,
//	    "{{ anonymousId }} did {{ event }} on {{ context.url }}"))
//
// Placeholders are resolved against the event's wire form (see
// template.EventContext).
package logdest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/config"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/template"
)

// Name is the plugin name.
const Name = "logger"

// DefaultTemplates are used for event types without a configured template.
var DefaultTemplates = map[event.Type]string{
	event.TypePage:          "page {{ context.path }}",
	event.TypeTrack:         "track {{ event }}",
	event.TypeIdentify:      "identify {{ userId }}",
	event.TypeComponentView: "component view {{ component.componentId }}",
	event.TypeComponentSeen: "component seen {{ component.componentId }}",
}

// Destination logs delivered events.
type Destination struct {
	logger       *slog.Logger
	level        slog.Level
	templates    map[event.Type]string
	interpolator *template.Interpolator
}

// Option configures a Destination.
type Option func(*Destination)

// WithTemplate sets the message template for one event type.
func WithTemplate(t event.Type, tmpl string) Option {
	return func(d *Destination) {
		d.templates[t] = tmpl
	}
}

// WithLevel sets the log level. Default: info.
func WithLevel(level slog.Level) Option {
	return func(d *Destination) {
		d.level = level
	}
}

// WithMissingAction sets how unresolved placeholders render.
func WithMissingAction(action template.MissingAction) Option {
	return func(d *Destination) {
		d.interpolator = template.NewInterpolator(template.WithMissingAction(action))
	}
}

// New creates a Destination writing to logger.
func New(logger *slog.Logger, opts ...Option) *Destination {
	d := &Destination{
		logger:       logger,
		level:        slog.LevelInfo,
		templates:    make(map[event.Type]string, len(DefaultTemplates)),
		interpolator: template.NewInterpolator(template.WithMissingAction(template.MissingEmpty)),
	}
	for t, tmpl := range DefaultTemplates {
		d.templates[t] = tmpl
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FromOptions creates a Destination from a plugin option map:
//
//	level: debug|info|warn|error
//	missing: keep|empty|error
//	templates: {track: "...", page: "..."}
func FromOptions(logger *slog.Logger, o config.Options) (*Destination, error) {
	var opts []Option

	var level slog.Level
	if err := level.UnmarshalText([]byte(o.String("level", "info"))); err != nil {
		return nil, fmt.Errorf("logdest: %w", err)
	}
	opts = append(opts, WithLevel(level))

	switch strings.ToLower(o.String("missing", "empty")) {
	case "keep":
		opts = append(opts, WithMissingAction(template.MissingKeep))
	case "empty":
		opts = append(opts, WithMissingAction(template.MissingEmpty))
	case "error":
		opts = append(opts, WithMissingAction(template.MissingError))
	default:
		return nil, fmt.Errorf("logdest: unknown missing action %q", o.String("missing", ""))
	}

	for name, tmpl := range o.StringMap("templates") {
		t, err := event.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("logdest: %w", err)
		}
		opts = append(opts, WithTemplate(t, tmpl))
	}
	return New(logger, opts...), nil
}

var (
	_ plugin.Plugin      = (*Destination)(nil)
	_ plugin.Initializer = (*Destination)(nil)
)

// Name implements plugin.Plugin.
func (d *Destination) Name() string { return Name }

// Initialize implements plugin.Initializer.
func (d *Destination) Initialize(context.Context) error {
	if d.logger == nil {
		return errors.New("logdest: logger is required")
	}
	return nil
}

// Page implements plugin.PageHandler.
func (d *Destination) Page(ctx context.Context, e *event.Event) error {
	return d.write(ctx, e)
}

// Track implements plugin.TrackHandler.
func (d *Destination) Track(ctx context.Context, e *event.Event) error {
	return d.write(ctx, e)
}

// Identify implements plugin.IdentifyHandler.
func (d *Destination) Identify(ctx context.Context, e *event.Event) error {
	return d.write(ctx, e)
}

// ComponentView implements plugin.ComponentViewHandler.
func (d *Destination) ComponentView(ctx context.Context, e *event.Event, a bucket.Assignment) error {
	return d.write(ctx, e, slog.Int("variant_index", a.VariantIndex), slog.Bool("in_experience", a.InExperience))
}

// ComponentSeen implements plugin.ComponentSeenHandler.
func (d *Destination) ComponentSeen(ctx context.Context, e *event.Event, a bucket.Assignment) error {
	return d.write(ctx, e, slog.Int("variant_index", a.VariantIndex), slog.Bool("in_experience", a.InExperience))
}

func (d *Destination) write(ctx context.Context, e *event.Event, extra ...slog.Attr) error {
	msg, err := d.interpolator.Interpolate(d.templates[e.Type], template.EventContext(e))
	if err != nil {
		return err
	}
	attrs := append([]slog.Attr{
		slog.String("message_id", e.MessageID),
		slog.String("event_type", string(e.Type)),
		slog.String("anonymous_id", e.AnonymousID),
	}, extra...)
	d.logger.LogAttrs(ctx, d.level, msg, attrs...)
	return nil
}
