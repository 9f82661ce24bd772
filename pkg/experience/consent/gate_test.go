package consent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

type failingStorage struct {
	storage.Storage
	err error
}

func (f failingStorage) Get(context.Context, string) (string, error) { return "", f.err }
func (f failingStorage) Set(context.Context, string, string, time.Duration) error { return f.err }
func (f failingStorage) Delete(context.Context, string) error { return f.err }

func newGate(t *testing.T, policies Policies, opts ...Option) (*Gate, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	g, err := New(context.Background(), store, policies, opts...)
	require.NoError(t, err)
	return g, store
}

func TestNew_InitialState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored string
		want   State
	}{
		{"absent", "", NotAccepted},
		{"accepted", storage.ConsentAccepted, Accepted},
		{"other value", "yes", NotAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			if tt.stored != "" {
				require.NoError(t, store.Set(ctx, storage.ConsentKey, tt.stored, 0))
			}
			g, err := New(ctx, store, DefaultPolicies())
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.State())
		})
	}
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, nil, DefaultPolicies())
	assert.Error(t, err)

	bad := DefaultPolicies()
	bad[Accepted].AllowedEvents = []event.Type{"bogus"}
	_, err = New(ctx, storage.NewMemoryStorage(), bad)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = New(ctx, failingStorage{err: errors.New("down")}, DefaultPolicies())
	assert.ErrorContains(t, err, "down")
}

func TestConsent_PersistsAndSwitches(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t, DefaultPolicies())

	require.NoError(t, g.Consent(ctx, true))
	assert.Equal(t, Accepted, g.State())
	v, err := store.Get(ctx, storage.ConsentKey)
	require.NoError(t, err)
	assert.Equal(t, storage.ConsentAccepted, v)

	require.NoError(t, g.Consent(ctx, false))
	assert.Equal(t, NotAccepted, g.State())
	_, err = store.Get(ctx, storage.ConsentKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsent_StorageFailureKeepsState(t *testing.T) {
	store := failingStorage{Storage: storage.NewMemoryStorage(), err: storage.ErrNotFound}
	g, err := New(context.Background(), store, DefaultPolicies())
	require.NoError(t, err)

	g.store = failingStorage{err: errors.New("quota exceeded")}
	err = g.Consent(context.Background(), true)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, NotAccepted, g.State())
}

func TestEvaluate_BlocksDisallowedType(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies())
	e := event.NewIdentify("user-1", map[string]any{"plan": "pro"}, event.WithMessageID("m1"))

	d := g.Evaluate(context.Background(), e)

	assert.True(t, d.Blocked)
	assert.Nil(t, d.Event)
	assert.Contains(t, d.Reason, "identify")
	assert.Equal(t, NotAccepted, d.State)

	q := g.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, "m1", q[0].MessageID)
}

func TestEvaluate_TrackNameNotAllowedIsBlocked(t *testing.T) {
	before := DefaultPrivacyPolicy()
	before.AllowedTrackEvents = []string{}
	after := AllowAll()
	g, _ := newGate(t, NewPolicies(before, after))
	ctx := context.Background()

	d := g.Evaluate(ctx, event.NewTrack("click", map[string]any{"x": 1}))
	assert.True(t, d.Blocked)
	assert.Contains(t, d.Reason, "click")

	require.NoError(t, g.Consent(ctx, true))

	d = g.Evaluate(ctx, event.NewTrack("click", map[string]any{"x": 1}))
	assert.False(t, d.Blocked)
	assert.Equal(t, map[string]any{"x": 1}, d.Event.Properties)
}

func TestEvaluate_TrackNameGlob(t *testing.T) {
	before := DefaultPrivacyPolicy()
	before.AllowedTrackEvents = []string{"nt_*", "signup"}
	g, _ := newGate(t, NewPolicies(before, AllowAll()))

	assert.False(t, g.Evaluate(context.Background(), event.NewTrack("nt_experience", nil)).Blocked)
	assert.False(t, g.Evaluate(context.Background(), event.NewTrack("signup", nil)).Blocked)
	assert.True(t, g.Evaluate(context.Background(), event.NewTrack("purchase", nil)).Blocked)
}

func TestEvaluate_RedactsByType(t *testing.T) {
	policy := Policy{
		AllowedEvents:               []event.Type{event.TypePage, event.TypeTrack, event.TypeIdentify},
		AllowedPageEventProperties:  []string{"path", "nt_*"},
		AllowedTrackEvents:          []string{"*"},
		AllowedTrackEventProperties: []string{"amount"},
		AllowedTraits:               []string{"plan"},
	}
	g, _ := newGate(t, NewPolicies(policy, policy))
	ctx := context.Background()

	t.Run("page", func(t *testing.T) {
		in := event.NewPage(map[string]any{"path": "/", "nt_experiment": "a", "email": "x@y"})
		d := g.Evaluate(ctx, in)
		require.False(t, d.Blocked)
		assert.Equal(t, map[string]any{"path": "/", "nt_experiment": "a"}, d.Event.Properties)
		assert.Equal(t, []string{"properties.email"}, d.Redacted)
		assert.Contains(t, in.Properties, "email", "input must not be modified")
	})

	t.Run("track", func(t *testing.T) {
		d := g.Evaluate(ctx, event.NewTrack("buy", map[string]any{"amount": 3, "card": "4111"}))
		assert.Equal(t, map[string]any{"amount": 3}, d.Event.Properties)
		assert.Equal(t, []string{"properties.card"}, d.Redacted)
	})

	t.Run("identify", func(t *testing.T) {
		d := g.Evaluate(ctx, event.NewIdentify("u1", map[string]any{"plan": "pro", "ssn": "1"}))
		assert.Equal(t, map[string]any{"plan": "pro"}, d.Event.Traits)
		assert.Equal(t, "u1", d.Event.UserID)
		assert.Equal(t, []string{"traits.ssn"}, d.Redacted)
	})
}

func TestEvaluate_BlockProfileMerging(t *testing.T) {
	for _, traits := range [][]string{{"plan"}, {"*"}} {
		t.Run(fmt.Sprint(traits), func(t *testing.T) {
			before := Policy{
				AllowedEvents:       []event.Type{event.TypeIdentify},
				AllowedTraits:       traits,
				BlockProfileMerging: true,
			}
			g, _ := newGate(t, NewPolicies(before, AllowAll()))

			d := g.Evaluate(context.Background(), event.NewIdentify("user-42", map[string]any{"plan": "pro"}))

			require.False(t, d.Blocked)
			assert.Equal(t, "", d.Event.UserID)
			assert.Equal(t, "pro", d.Event.Traits["plan"])
			assert.Contains(t, d.Redacted, FieldUserID)
		})
	}
}

func TestEvaluate_ComponentEventsOnlyTypeChecked(t *testing.T) {
	policy := Policy{AllowedEvents: []event.Type{event.TypeComponentView}}
	g, _ := newGate(t, NewPolicies(policy, policy))

	view := event.NewComponentView(event.Component{ComponentID: "hero", ExperienceID: "exp-1", VariantIndex: 1})
	d := g.Evaluate(context.Background(), view)
	require.False(t, d.Blocked)
	assert.Equal(t, view.Component, d.Event.Component)
	assert.Empty(t, d.Redacted)

	seen := event.NewComponentSeen(event.Component{ComponentID: "hero"})
	assert.True(t, g.Evaluate(context.Background(), seen).Blocked)
}

func TestEvaluate_RedactionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g, _ := newGate(t, DefaultPolicies(), WithLogger(logger))

	g.Evaluate(context.Background(), event.NewTrack("click", map[string]any{"secret": 1}))

	assert.Contains(t, buf.String(), "redacted")
	assert.Contains(t, buf.String(), "properties.secret")
}

func TestSetPolicies_NextEvaluationObservesChange(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies())
	ctx := context.Background()

	assert.True(t, g.Evaluate(ctx, event.NewIdentify("u", nil)).Blocked)

	open := NewPolicies(AllowAll(), AllowAll())
	require.NoError(t, g.SetPolicies(open))
	assert.False(t, g.Evaluate(ctx, event.NewIdentify("u", nil)).Blocked)

	bad := open
	bad[NotAccepted].AllowedEvents = []event.Type{"nope"}
	assert.ErrorIs(t, g.SetPolicies(bad), ErrInvalidPolicy)
}

func TestQueue_NoReplayOnConsent(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies())
	ctx := context.Background()

	g.Evaluate(ctx, event.NewIdentify("u", nil))
	require.NoError(t, g.Consent(ctx, true))

	assert.Len(t, g.Queue(), 1, "blocked events stay queued after consent")

	drained := g.DrainQueue()
	assert.Len(t, drained, 1)
	assert.Empty(t, g.Queue())
}

func TestQueue_BoundedDropsOldest(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies(), WithQueueCapacity(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.Evaluate(ctx, event.NewIdentify("u", nil, event.WithMessageID(fmt.Sprint(i))))
	}

	q := g.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, "1", q[0].MessageID)
	assert.Equal(t, "2", q[1].MessageID)
	assert.Equal(t, 1, g.Dropped())
}

func TestQueue_SnapshotIsolation(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies())
	g.Evaluate(context.Background(), event.NewIdentify("u", map[string]any{"a": 1}))

	q := g.Queue()
	q[0].Traits["a"] = 2

	assert.Equal(t, 1, g.Queue()[0].Traits["a"])
}

func TestFeatures_FollowConsentState(t *testing.T) {
	g, _ := newGate(t, DefaultPolicies())
	assert.Empty(t, g.Features())

	require.NoError(t, g.Consent(context.Background(), true))
	assert.ElementsMatch(t, []Feature{FeatureIPEnrichment, FeatureLocation}, g.Features())

	f := g.Features()
	f[0] = "mutated"
	assert.NotContains(t, g.Features(), Feature("mutated"))
}
