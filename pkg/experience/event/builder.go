package event

import (
	"sync"
	"time"
)

// Builder constructs events on behalf of plugins that emit their own events,
// stamping them with the current environment context.
//
// The pipeline owns one Builder and hands it to plugins implementing
// plugin.EventBuilderConsumer. Builder is safe for concurrent use.
type Builder struct {
	mu      sync.RWMutex
	context Context
	now     func() time.Time
}

// NewBuilder creates a builder that stamps events with ctx.
func NewBuilder(ctx Context) *Builder {
	return &Builder{context: ctx, now: time.Now}
}

// SetContext replaces the environment context used for subsequent events.
func (b *Builder) SetContext(ctx Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.context = ctx
}

// Context returns the current environment context.
func (b *Builder) Context() Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.context
}

func (b *Builder) build(t Type, opts []Option) *Event {
	e := &Event{Type: t, Context: b.Context()}
	for _, opt := range opts {
		opt(e)
	}
	e.Stamp(b.now())
	return e
}

// Page builds a page event.
func (b *Builder) Page(properties map[string]any, opts ...Option) *Event {
	e := b.build(TypePage, opts)
	e.Properties = properties
	return e
}

// Track builds a track event.
func (b *Builder) Track(name string, properties map[string]any, opts ...Option) *Event {
	e := b.build(TypeTrack, opts)
	e.Name = name
	e.Properties = properties
	return e
}

// Identify builds an identify event.
func (b *Builder) Identify(userID string, traits map[string]any, opts ...Option) *Event {
	e := b.build(TypeIdentify, opts)
	e.UserID = userID
	e.Traits = traits
	return e
}

// ComponentView builds a component view event.
func (b *Builder) ComponentView(c Component, opts ...Option) *Event {
	e := b.build(TypeComponentView, opts)
	e.Component = &c
	return e
}

// ComponentSeen builds a component seen event.
func (b *Builder) ComponentSeen(c Component, opts ...Option) *Event {
	e := b.build(TypeComponentSeen, opts)
	e.Component = &c
	return e
}
