// Package plugin defines the contract between the pipeline and its
// destinations.
//
// A destination implements Plugin plus any of the optional hook interfaces
// below. The pipeline discovers hooks with type assertions, so a plugin only
// implements what it needs:
//
//	type Console struct{}
//
//	func (Console) Name() string { return "console" }
//
//	func (Console) Track(ctx context.Context, e *event.Event) error {
//	    fmt.Println(e.Name)
//	    return nil
//	}
//
// Hooks are called sequentially in registration order and each call is
// awaited before the next plugin runs. A hook error or panic is logged and
// never prevents later plugins from running.
//
// Hooks run while the pipeline holds its dispatch lock. A hook must not call
// Dispatch or the other event methods of the pipeline; it sends follow-up
// events through an Emitter instead.
package plugin

import (
	"context"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
)

// Plugin is a named destination.
// Names must be unique within a pipeline.
type Plugin interface {
	Name() string
}

// Initializer is called once by InitializeAll, before any ReadyHook.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// ReadyHook is called after every Initializer has run.
type ReadyHook interface {
	Ready(ctx context.Context) error
}

// PageStartHook runs before any PageHandler. Returning a non-nil event
// replaces the event seen by later hooks and handlers.
type PageStartHook interface {
	PageStart(ctx context.Context, e *event.Event) (*event.Event, error)
}

// PageHandler receives page events.
type PageHandler interface {
	Page(ctx context.Context, e *event.Event) error
}

// TrackStartHook runs before any TrackHandler. See PageStartHook.
type TrackStartHook interface {
	TrackStart(ctx context.Context, e *event.Event) (*event.Event, error)
}

// TrackHandler receives track events.
type TrackHandler interface {
	Track(ctx context.Context, e *event.Event) error
}

// IdentifyStartHook runs before any IdentifyHandler. See PageStartHook.
type IdentifyStartHook interface {
	IdentifyStart(ctx context.Context, e *event.Event) (*event.Event, error)
}

// IdentifyHandler receives identify events.
type IdentifyHandler interface {
	Identify(ctx context.Context, e *event.Event) error
}

// ComponentViewHandler receives component view events with the visitor's
// resolved variant assignment.
type ComponentViewHandler interface {
	ComponentView(ctx context.Context, e *event.Event, a bucket.Assignment) error
}

// ComponentSeenHandler receives component seen events with the visitor's
// resolved variant assignment.
type ComponentSeenHandler interface {
	ComponentSeen(ctx context.Context, e *event.Event, a bucket.Assignment) error
}

// ComponentViewThresholdProvider reports how long a component must be
// visible before it counts as seen.
type ComponentViewThresholdProvider interface {
	ComponentViewTrackingThreshold() time.Duration
}

// EventBuilder builds events stamped with the pipeline's context.
// *event.Builder implements it.
type EventBuilder interface {
	Page(properties map[string]any, opts ...event.Option) *event.Event
	Track(name string, properties map[string]any, opts ...event.Option) *event.Event
	Identify(userID string, traits map[string]any, opts ...event.Option) *event.Event
	ComponentView(c event.Component, opts ...event.Option) *event.Event
	ComponentSeen(c event.Component, opts ...event.Option) *event.Event
}

var _ EventBuilder = (*event.Builder)(nil)

// EventBuilderConsumer receives the pipeline's EventBuilder before Initialize.
type EventBuilderConsumer interface {
	SetEventBuilder(b EventBuilder)
}

// Emitter queues an event for dispatch through the pipeline. Emitted events
// pass the consent gate like any other and are sent once the dispatch in
// progress has finished its handlers. Events emitted outside a dispatch are
// sent with the next one.
type Emitter interface {
	Emit(e *event.Event)
}

// EmitterConsumer receives the pipeline's Emitter before Initialize.
type EmitterConsumer interface {
	SetEmitter(em Emitter)
}

// SharedConsumer receives the pipeline's shared debug context at registration.
type SharedConsumer interface {
	SetShared(s *registry.Shared)
}

// Closer is called in reverse registration order when the pipeline closes.
type Closer interface {
	Close(ctx context.Context) error
}
