package buffer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/config"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugins/buffer"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
)

func TestBuffer_FlushesInBatches(t *testing.T) {
	var batches [][]*event.Event
	b := buffer.New(buffer.WithBatchSize(2), buffer.WithSink(func(_ context.Context, batch []*event.Event) error {
		batches = append(batches, batch)
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, b.Page(ctx, event.NewPage(nil)))
	assert.Empty(t, batches)
	require.NoError(t, b.Track(ctx, event.NewTrack("click", nil)))
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)

	require.NoError(t, b.Identify(ctx, event.NewIdentify("u", nil)))
	assert.Len(t, b.Pending(), 1)

	require.NoError(t, b.Close(ctx))
	assert.Len(t, batches, 2)
	assert.Equal(t, 3, b.Flushed())
	assert.Empty(t, b.Pending())
}

func TestBuffer_SinkFailureKeepsBatch(t *testing.T) {
	fail := true
	b := buffer.New(buffer.WithBatchSize(1), buffer.WithSink(func(context.Context, []*event.Event) error {
		if fail {
			return errors.New("offline")
		}
		return nil
	}))
	ctx := context.Background()

	err := b.Track(ctx, event.NewTrack("click", nil))
	assert.ErrorContains(t, err, "offline")
	assert.Len(t, b.Pending(), 1)

	fail = false
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 1, b.Flushed())
}

func TestBuffer_MirrorsIntoSharedNamespace(t *testing.T) {
	shared := registry.NewShared()
	b := buffer.New()
	b.SetShared(shared)

	require.NoError(t, b.Track(context.Background(), event.NewTrack("click", nil, event.WithMessageID("m-1"))))

	ns, ok := shared.Lookup(buffer.Name)
	require.True(t, ok)
	events := ns.List(buffer.KeyEvents)
	require.Len(t, events, 1)
	assert.Equal(t, "m-1", events[0].(map[string]any)["messageId"])
	assert.Equal(t, "click", events[0].(map[string]any)["event"])
}

// emitted collects events a plugin emits.
type emitted struct{ events []*event.Event }

func (em *emitted) Emit(e *event.Event) { em.events = append(em.events, e) }

func TestBuffer_EmitsSeenOncePastThreshold(t *testing.T) {
	b := buffer.New(buffer.WithThreshold(time.Second))
	b.SetEventBuilder(event.NewBuilder(event.Context{URL: "https://example.com"}))
	em := &emitted{}
	b.SetEmitter(em)
	ctx := context.Background()
	a := bucket.Assignment{ExperienceID: "exp", VariantIndex: 1, InExperience: true}

	short := event.NewComponentView(event.Component{ComponentID: "hero", ViewDurationMs: 200})
	require.NoError(t, b.ComponentView(ctx, short, a))
	assert.Empty(t, em.events)

	long := event.NewComponentView(event.Component{ComponentID: "hero", ViewDurationMs: 1500})
	require.NoError(t, b.ComponentView(ctx, long, a))
	require.Len(t, em.events, 1)
	seen := em.events[0]
	assert.Equal(t, event.TypeComponentSeen, seen.Type)
	assert.Equal(t, "https://example.com", seen.Context.URL)

	// Emitting does not deliver: only the pipeline hands it back.
	for _, e := range b.Pending() {
		assert.NotEqual(t, event.TypeComponentSeen, e.Type)
	}

	require.NoError(t, b.ComponentSeen(ctx, seen, a))
	require.NoError(t, b.ComponentView(ctx, long, a))
	assert.Len(t, em.events, 1)
}

func TestBuffer_NoEmitterNoSeen(t *testing.T) {
	b := buffer.New(buffer.WithThreshold(time.Second))
	b.SetEventBuilder(event.NewBuilder(event.Context{}))

	view := event.NewComponentView(event.Component{ComponentID: "hero", ViewDurationMs: 1500})
	require.NoError(t, b.ComponentView(context.Background(), view, bucket.Assignment{}))
	assert.Len(t, b.Pending(), 1)
}

func TestFromOptions(t *testing.T) {
	b := buffer.FromOptions(config.NewOptions(map[string]any{"threshold": "750ms"}))
	assert.Equal(t, 750*time.Millisecond, b.ComponentViewTrackingThreshold())
}

func TestBuffer_InPipeline(t *testing.T) {
	ctx := context.Background()
	p, err := experience.New(ctx,
		experience.WithLogger(nil),
		experience.WithPolicies(consent.NewPolicies(consent.AllowAll(), consent.AllowAll())),
	)
	require.NoError(t, err)

	b := buffer.New(buffer.WithThreshold(500 * time.Millisecond))
	require.NoError(t, p.Register(b))
	require.NoError(t, p.InitializeAll(ctx))

	assert.Equal(t, 500*time.Millisecond, p.ComponentViewTrackingThreshold())

	_, err = p.Page(ctx, nil)
	require.NoError(t, err)
	res, err := p.TrackComponentView(ctx, event.Component{ComponentID: "hero", ViewDurationMs: 800})
	require.NoError(t, err)
	require.Len(t, res.Emitted, 1)
	assert.Equal(t, event.TypeComponentSeen, res.Emitted[0].Event.Type)
	assert.Equal(t, 1, res.Emitted[0].Delivered)

	res, err = p.TrackComponentView(ctx, event.Component{ComponentID: "hero", ViewDurationMs: 900})
	require.NoError(t, err)
	assert.Empty(t, res.Emitted)

	ns, ok := p.Shared().Lookup(buffer.Name)
	require.True(t, ok)
	assert.Len(t, ns.List(buffer.KeyEvents), 4)
	assert.Equal(t, []any{"hero"}, ns.List(buffer.KeySeen))

	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 4, b.Flushed())
}

func TestBuffer_SeenRespectsConsent(t *testing.T) {
	ctx := context.Background()
	viewsOnly := consent.Policy{AllowedEvents: []event.Type{event.TypeComponentView}}
	p, err := experience.New(ctx,
		experience.WithLogger(nil),
		experience.WithPolicies(consent.NewPolicies(viewsOnly, consent.AllowAll())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	b := buffer.New(buffer.WithThreshold(500 * time.Millisecond))
	require.NoError(t, p.Register(b))
	require.NoError(t, p.InitializeAll(ctx))

	res, err := p.TrackComponentView(ctx, event.Component{ComponentID: "hero", ViewDurationMs: 800})
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	require.Len(t, res.Emitted, 1)
	assert.True(t, res.Emitted[0].Blocked)

	pending := b.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, event.TypeComponentView, pending[0].Type)

	ns, ok := p.Shared().Lookup(buffer.Name)
	require.True(t, ok)
	assert.Empty(t, ns.List(buffer.KeySeen))

	queued := p.Gate().Queue()
	require.Len(t, queued, 1)
	assert.Equal(t, event.TypeComponentSeen, queued[0].Type)
}
