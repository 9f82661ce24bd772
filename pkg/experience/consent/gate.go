// Package consent decides, per event, whether it may leave the device and
// which of its fields survive.
//
// The gate has two states, NotAccepted and Accepted, switched only by an
// explicit Consent call. Each state has its own Policy; the policy for the
// current state is looked up on every evaluation.
//
//	gate, err := consent.New(ctx, store, consent.DefaultPolicies())
//	d := gate.Evaluate(ctx, e)
//	if d.Blocked {
//	    return // d.Reason says why
//	}
//	forward(d.Event)
//
// Blocked events are kept in a bounded queue for diagnostics. They are never
// forwarded automatically when consent changes.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/wildcard"
)

// DefaultQueueCapacity bounds the blocked-event queue.
const DefaultQueueCapacity = 1000

// Field names reported in Decision.Redacted.
const (
	FieldProperties = "properties"
	FieldTraits     = "traits"
	FieldUserID     = "userId"
)

// Decision is the outcome of evaluating one event.
type Decision struct {
	// Event is the event to forward: a redacted copy of the input, or nil
	// when Blocked.
	Event *event.Event

	// Blocked is true when no destination may see the event.
	Blocked bool

	// Reason explains a block.
	Reason string

	// Redacted lists removed fields as "properties.<key>", "traits.<key>",
	// or "userId".
	Redacted []string

	// State is the consent state the decision was made under.
	State State
}

// Gate applies consent policies to events.
type Gate struct {
	store storage.Storage

	mu       sync.RWMutex
	state    State
	policies Policies

	queue *queue

	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger for block and redaction messages.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithQueueCapacity bounds the blocked-event queue. Oldest events are dropped
// first once full.
func WithQueueCapacity(n int) Option {
	return func(g *Gate) {
		g.queue = newQueue(n)
	}
}

// New creates a gate, reading the initial state from store.
func New(ctx context.Context, store storage.Storage, policies Policies, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("consent: storage is required")
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		store:    store,
		policies: policies,
		queue:    newQueue(DefaultQueueCapacity),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(g)
	}

	v, err := storage.GetOr(ctx, store, storage.ConsentKey, "")
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	if v == storage.ConsentAccepted {
		g.state = Accepted
	}
	return g, nil
}

// State returns the current consent state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Policies returns the current policy table.
func (g *Gate) Policies() Policies {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policies
}

// Features returns the features enabled by the policy for the current state.
func (g *Gate) Features() []Feature {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.policies.For(g.state).EnabledFeatures)
}

// SetPolicies replaces the policy table. The next evaluation uses it.
func (g *Gate) SetPolicies(p Policies) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies = p
	return nil
}

// Consent records the visitor's choice. Accepting persists the accepted
// value; declining removes it. The in-memory state only changes once storage
// has been updated.
func (g *Gate) Consent(ctx context.Context, accepted bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := NotAccepted
	var err error
	if accepted {
		next = Accepted
		err = g.store.Set(ctx, storage.ConsentKey, storage.ConsentAccepted, 0)
	} else {
		err = g.store.Delete(ctx, storage.ConsentKey)
	}
	if err != nil {
		return fmt.Errorf("persist consent: %w", err)
	}

	if g.state != next {
		observability.LogConsentChanged(g.logger, g.state.String(), next.String())
	}
	g.state = next
	return nil
}

// Evaluate applies the policy for the current state to e.
// e itself is never modified.
func (g *Gate) Evaluate(ctx context.Context, e *event.Event) Decision {
	g.mu.RLock()
	state := g.state
	policy := g.policies.For(state)
	g.mu.RUnlock()

	d := Decision{State: state}

	if !policy.AllowsEvent(e.Type) {
		return g.block(d, e, fmt.Sprintf("event type %q not allowed", e.Type))
	}
	if e.Type == event.TypeTrack && !policy.AllowsTrackEvent(e.Name) {
		return g.block(d, e, fmt.Sprintf("track event %q not allowed", e.Name))
	}

	out := e.Clone()
	field := FieldProperties
	switch e.Type {
	case event.TypePage:
		out.Properties = wildcard.Pick(e.Properties, policy.AllowedPageEventProperties)
		d.Redacted = redacted(FieldProperties, e.Properties, out.Properties)
	case event.TypeTrack:
		out.Properties = wildcard.Pick(e.Properties, policy.AllowedTrackEventProperties)
		d.Redacted = redacted(FieldProperties, e.Properties, out.Properties)
	case event.TypeIdentify:
		field = FieldTraits
		out.Traits = wildcard.Pick(e.Traits, policy.AllowedTraits)
		d.Redacted = redacted(FieldTraits, e.Traits, out.Traits)
		if policy.BlockProfileMerging && out.UserID != "" {
			out.UserID = ""
			d.Redacted = append(d.Redacted, FieldUserID)
		}
	}

	if len(d.Redacted) > 0 {
		observability.LogRedacted(g.logger, string(e.Type), e.MessageID, field, d.Redacted)
		g.metrics.RecordRedaction(ctx, string(e.Type), len(d.Redacted))
		observability.AddSpanEvent(ctx, "consent.redacted")
	}

	d.Event = out
	return d
}

func (g *Gate) block(d Decision, e *event.Event, reason string) Decision {
	g.queue.push(e.Clone())
	observability.LogBlocked(g.logger, string(e.Type), e.MessageID, reason, d.State.String())
	d.Blocked = true
	d.Reason = reason
	return d
}

// Queue returns a copy of the blocked events, oldest first.
func (g *Gate) Queue() []*event.Event {
	return g.queue.snapshot()
}

// DrainQueue removes and returns the blocked events, oldest first. Callers
// may re-dispatch them manually; their message ids are preserved.
func (g *Gate) DrainQueue() []*event.Event {
	return g.queue.drain()
}

// Dropped returns how many blocked events were discarded because the queue
// was full.
func (g *Gate) Dropped() int {
	return g.queue.droppedCount()
}

func redacted(field string, before, after map[string]any) []string {
	dropped := wildcard.Dropped(before, after)
	if len(dropped) == 0 {
		return nil
	}
	out := make([]string, len(dropped))
	for i, k := range dropped {
		out[i] = field + "." + k
	}
	return out
}
