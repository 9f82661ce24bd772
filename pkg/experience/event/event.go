// Package event defines the visitor events that flow through the experience
// pipeline.
//
// An Event is a tagged union: Type selects which payload fields are
// meaningful. Page events carry Properties, Track events carry Name and
// Properties, Identify events carry UserID and Traits, and the two component
// events carry a Component.
package event

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Type identifies the variant of an Event.
type Type string

// Event types accepted by the pipeline.
const (
	TypePage          Type = "page"
	TypeTrack         Type = "track"
	TypeIdentify      Type = "identify"
	TypeComponentView Type = "component_view"
	TypeComponentSeen Type = "component_seen"
)

// Types lists every valid event type in a stable order.
var Types = []Type{TypePage, TypeTrack, TypeIdentify, TypeComponentView, TypeComponentSeen}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypePage, TypeTrack, TypeIdentify, TypeComponentView, TypeComponentSeen:
		return true
	}
	return false
}

// IsComponent reports whether t is one of the experience-bearing component types.
func (t Type) IsComponent() bool {
	return t == TypeComponentView || t == TypeComponentSeen
}

// ParseType converts a string into a Type.
// Accepts the canonical names plus the camelCase spellings used by browser SDKs.
func ParseType(s string) (Type, error) {
	switch s {
	case "page":
		return TypePage, nil
	case "track":
		return TypeTrack, nil
	case "identify":
		return TypeIdentify, nil
	case "component_view", "component-view", "componentView", "component":
		return TypeComponentView, nil
	case "component_seen", "component-seen", "componentSeen", "hasSeenComponent":
		return TypeComponentSeen, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Context describes the environment an event was captured in.
// It is supplied by the caller; the pipeline never computes it.
type Context struct {
	URL       string `json:"url,omitempty" yaml:"url"`
	Path      string `json:"path,omitempty" yaml:"path"`
	Referrer  string `json:"referrer,omitempty" yaml:"referrer"`
	Locale    string `json:"locale,omitempty" yaml:"locale"`
	UserAgent string `json:"userAgent,omitempty" yaml:"user_agent"`
	Title     string `json:"title,omitempty" yaml:"title"`
}

// Component is the payload of component view and seen events.
type Component struct {
	ComponentID   string `json:"componentId"`
	ComponentType string `json:"componentType,omitempty"`
	ExperienceID  string `json:"experienceId,omitempty"`
	VariantIndex  int    `json:"variantIndex"`
	// ViewDurationMs is how long the component has been visible, when known.
	ViewDurationMs int64 `json:"viewDurationMs,omitempty"`
}

// Event is a single visitor event.
type Event struct {
	MessageID   string `json:"messageId"`
	Type        Type   `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	AnonymousID string `json:"anonymousId,omitempty"`
	UserID      string `json:"userId,omitempty"`

	Context Context `json:"context"`

	// Name is the track event name.
	Name       string         `json:"event,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Traits     map[string]any `json:"traits,omitempty"`
	Component  *Component     `json:"component,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithMessageID sets a specific message ID (default: random UUID).
func WithMessageID(id string) Option {
	return func(e *Event) {
		e.MessageID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t.UnixMilli()
	}
}

// WithContext attaches the capturing environment.
func WithContext(c Context) Option {
	return func(e *Event) {
		e.Context = c
	}
}

// WithAnonymousID presets the anonymous ID. The pipeline fills in the
// visitor's anonymous ID during dispatch only when none is set.
func WithAnonymousID(id string) Option {
	return func(e *Event) {
		e.AnonymousID = id
	}
}

// New creates an event of the given type and stamps it.
func New(t Type, opts ...Option) *Event {
	e := &Event{Type: t}
	for _, opt := range opts {
		opt(e)
	}
	e.Stamp(time.Now())
	return e
}

// NewPage creates a page event.
func NewPage(properties map[string]any, opts ...Option) *Event {
	e := New(TypePage, opts...)
	e.Properties = properties
	return e
}

// NewTrack creates a track event with the given name.
func NewTrack(name string, properties map[string]any, opts ...Option) *Event {
	e := New(TypeTrack, opts...)
	e.Name = name
	e.Properties = properties
	return e
}

// NewIdentify creates an identify event.
func NewIdentify(userID string, traits map[string]any, opts ...Option) *Event {
	e := New(TypeIdentify, opts...)
	e.UserID = userID
	e.Traits = traits
	return e
}

// NewComponentView creates a component view event.
func NewComponentView(c Component, opts ...Option) *Event {
	e := New(TypeComponentView, opts...)
	e.Component = &c
	return e
}

// NewComponentSeen creates a component seen event.
func NewComponentSeen(c Component, opts ...Option) *Event {
	e := New(TypeComponentSeen, opts...)
	e.Component = &c
	return e
}

// Stamp assigns a MessageID and Timestamp when they are absent.
// Existing values are never replaced, so replays keep their identity.
func (e *Event) Stamp(now time.Time) {
	if e.MessageID == "" {
		e.MessageID = uuid.New().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = now.UnixMilli()
	}
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Validate checks that the variant-specific payload is present.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	switch e.Type {
	case TypeTrack:
		if e.Name == "" {
			return fmt.Errorf("track event requires a name")
		}
	case TypeComponentView, TypeComponentSeen:
		if e.Component == nil || e.Component.ComponentID == "" {
			return fmt.Errorf("%s event requires a component id", e.Type)
		}
	}
	return nil
}

// Clone returns a copy whose top-level maps and component may be modified
// without affecting the original.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = maps.Clone(e.Properties)
	c.Traits = maps.Clone(e.Traits)
	if e.Component != nil {
		comp := *e.Component
		c.Component = &comp
	}
	return &c
}
