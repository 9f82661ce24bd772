// Package buffer is a batching destination. It collects delivered events,
// hands them to a sink in batches, and mirrors a summary of each event into
// the pipeline's shared debug context.
//
// Component view events whose view duration reaches the configured threshold
// make the buffer emit a component seen event through the pipeline, once per
// component. It reaches the buffer only if the consent policy allows it.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/config"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
)

// Name is the plugin name and the shared namespace it writes to.
const Name = "buffer"

// Defaults.
const (
	DefaultBatchSize = 20
	DefaultThreshold = 2 * time.Second
)

// Shared namespace keys.
const (
	KeyEvents = "events"
	KeySeen   = "seen"
)

// Sink receives flushed batches.
type Sink func(ctx context.Context, batch []*event.Event) error

// Buffer batches events for a sink.
type Buffer struct {
	batchSize int
	threshold time.Duration
	sink      Sink

	builder plugin.EventBuilder
	emitter plugin.Emitter
	ns      *registry.Namespace

	mu      sync.Mutex
	pending []*event.Event
	seen    map[string]bool
	flushed int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithBatchSize flushes once n events are pending.
func WithBatchSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithThreshold sets how long a component must be visible to count as seen.
func WithThreshold(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.threshold = d
		}
	}
}

// WithSink sets where batches go. Without a sink, flushed events are
// discarded after being counted.
func WithSink(s Sink) Option {
	return func(b *Buffer) {
		b.sink = s
	}
}

// New creates a Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		batchSize: DefaultBatchSize,
		threshold: DefaultThreshold,
		seen:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FromOptions creates a Buffer from a plugin option map with the keys
// batch_size and threshold.
func FromOptions(o config.Options, opts ...Option) *Buffer {
	base := []Option{
		WithBatchSize(o.Int("batch_size", DefaultBatchSize)),
		WithThreshold(o.Duration("threshold", DefaultThreshold)),
	}
	return New(append(base, opts...)...)
}

var (
	_ plugin.Plugin                         = (*Buffer)(nil)
	_ plugin.EventBuilderConsumer           = (*Buffer)(nil)
	_ plugin.SharedConsumer                 = (*Buffer)(nil)
	_ plugin.ComponentViewThresholdProvider = (*Buffer)(nil)
	_ plugin.Closer                         = (*Buffer)(nil)
)

// Name implements plugin.Plugin.
func (b *Buffer) Name() string { return Name }

// SetEventBuilder implements plugin.EventBuilderConsumer.
func (b *Buffer) SetEventBuilder(eb plugin.EventBuilder) { b.builder = eb }

// SetEmitter implements plugin.EmitterConsumer.
func (b *Buffer) SetEmitter(em plugin.Emitter) { b.emitter = em }

// SetShared implements plugin.SharedConsumer.
func (b *Buffer) SetShared(s *registry.Shared) { b.ns = s.Namespace(Name) }

// ComponentViewTrackingThreshold implements
// plugin.ComponentViewThresholdProvider.
func (b *Buffer) ComponentViewTrackingThreshold() time.Duration { return b.threshold }

// Page implements plugin.PageHandler.
func (b *Buffer) Page(ctx context.Context, e *event.Event) error { return b.add(ctx, e) }

// Track implements plugin.TrackHandler.
func (b *Buffer) Track(ctx context.Context, e *event.Event) error { return b.add(ctx, e) }

// Identify implements plugin.IdentifyHandler.
func (b *Buffer) Identify(ctx context.Context, e *event.Event) error { return b.add(ctx, e) }

// ComponentView implements plugin.ComponentViewHandler.
func (b *Buffer) ComponentView(ctx context.Context, e *event.Event, _ bucket.Assignment) error {
	if err := b.add(ctx, e); err != nil {
		return err
	}
	if !b.reachedThreshold(e) {
		return nil
	}
	b.emitter.Emit(b.builder.ComponentSeen(*e.Component,
		event.WithAnonymousID(e.AnonymousID),
		event.WithContext(e.Context),
	))
	return nil
}

// ComponentSeen implements plugin.ComponentSeenHandler. Each component is
// recorded as seen at most once.
func (b *Buffer) ComponentSeen(ctx context.Context, e *event.Event, _ bucket.Assignment) error {
	b.mu.Lock()
	id := e.Component.ComponentID
	if b.seen[id] {
		b.mu.Unlock()
		return nil
	}
	b.seen[id] = true
	b.mu.Unlock()

	if b.ns != nil {
		b.ns.Append(KeySeen, id)
	}
	return b.add(ctx, e)
}

func (b *Buffer) reachedThreshold(e *event.Event) bool {
	if b.builder == nil || b.emitter == nil || e.Component == nil {
		return false
	}
	b.mu.Lock()
	seen := b.seen[e.Component.ComponentID]
	b.mu.Unlock()
	if seen {
		return false
	}
	return time.Duration(e.Component.ViewDurationMs)*time.Millisecond >= b.threshold
}

func (b *Buffer) add(ctx context.Context, e *event.Event) error {
	if b.ns != nil {
		b.ns.Append(KeyEvents, summarize(e))
	}

	b.mu.Lock()
	b.pending = append(b.pending, e.Clone())
	if len(b.pending) < b.batchSize {
		b.mu.Unlock()
		return nil
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	return b.send(ctx, batch)
}

// Flush sends every pending event to the sink.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	return b.send(ctx, batch)
}

// Close implements plugin.Closer by flushing.
func (b *Buffer) Close(ctx context.Context) error {
	return b.Flush(ctx)
}

// Pending returns a copy of the events awaiting a flush.
func (b *Buffer) Pending() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*event.Event, len(b.pending))
	for i, e := range b.pending {
		out[i] = e.Clone()
	}
	return out
}

// Flushed returns how many events have been handed to the sink.
func (b *Buffer) Flushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

func (b *Buffer) takeLocked() []*event.Event {
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *Buffer) send(ctx context.Context, batch []*event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if b.sink != nil {
		if err := b.sink(ctx, batch); err != nil {
			b.requeue(batch)
			return fmt.Errorf("flush %d events: %w", len(batch), err)
		}
	}
	b.mu.Lock()
	b.flushed += len(batch)
	b.mu.Unlock()
	return nil
}

// requeue puts a failed batch back in front of newer events.
func (b *Buffer) requeue(batch []*event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(batch, b.pending...)
}

func summarize(e *event.Event) map[string]any {
	s := map[string]any{
		"messageId": e.MessageID,
		"type":      string(e.Type),
		"timestamp": e.Timestamp,
	}
	if e.Name != "" {
		s["event"] = e.Name
	}
	if e.Component != nil {
		s["componentId"] = e.Component.ComponentID
		s["variantIndex"] = e.Component.VariantIndex
	}
	return s
}
