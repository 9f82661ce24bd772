package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/audience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

func TestMemoryStore_EvaluatesAudiences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithAudiences(
		audience.Audience{ID: "pro", Rule: "traits.plan == 'pro'"},
		audience.Audience{ID: "everyone", Rule: "id"},
	))

	p, err := store.UpsertProfile(ctx, UpsertRequest{ProfileID: "p1", Events: []*event.Event{event.NewPage(nil)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone"}, p.Audiences)

	p, err = store.UpsertProfile(ctx, UpsertRequest{
		ProfileID: "p1",
		Events:    []*event.Event{event.NewIdentify("", map[string]any{"plan": "pro"})},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pro", "everyone"}, p.Audiences)
	assert.True(t, p.InAudience("pro"))
}

func TestMemoryStore_AudienceRuleError(t *testing.T) {
	store := NewMemoryStore(WithAudiences(audience.Audience{ID: "broken", Rule: ">= 1"}))

	_, err := store.UpsertProfile(context.Background(), UpsertRequest{ProfileID: "p1"})
	assert.ErrorContains(t, err, "broken")
}

func TestMemoryStore_AliasAfterTakeOver(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertProfile(ctx, UpsertRequest{
		ProfileID: "anon",
		Events:    []*event.Event{event.NewPage(nil, event.WithAnonymousID("anon"))},
	})
	require.NoError(t, err)

	_, err = store.UpsertProfile(ctx, UpsertRequest{
		ProfileID: "user",
		Events:    []*event.Event{event.NewIdentify("user", map[string]any{"a": 1}, event.WithAnonymousID("anon"))},
	})
	require.NoError(t, err)

	p, err := store.GetProfile(ctx, "anon")
	require.NoError(t, err)
	assert.Equal(t, "user", p.ID)
	assert.Equal(t, 1, p.Traits["a"])

	p, err = store.UpsertProfile(ctx, UpsertRequest{ProfileID: "anon"})
	require.NoError(t, err)
	assert.Equal(t, "user", p.ID, "old anonymous id keeps resolving to the merged profile")
}

func TestMemoryStore_GetProfileNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetProfile(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p, err := store.UpsertProfile(ctx, UpsertRequest{
		ProfileID: "p1",
		Events:    []*event.Event{event.NewIdentify("", map[string]any{"a": 1})},
	})
	require.NoError(t, err)
	p.Traits["a"] = 2

	got, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Traits["a"])
}

func TestProfileClone(t *testing.T) {
	p := &Profile{
		ID:          "p",
		Traits:      map[string]any{"a": 1},
		Audiences:   []string{"x"},
		Experiences: map[string]int{"e": 1},
		Location:    &Location{Country: "DE"},
	}
	c := p.Clone()
	c.Traits["a"] = 2
	c.Audiences[0] = "y"
	c.Experiences["e"] = 2
	c.Location.Country = "FR"

	assert.Equal(t, 1, p.Traits["a"])
	assert.Equal(t, "x", p.Audiences[0])
	assert.Equal(t, 1, p.Experiences["e"])
	assert.Equal(t, "DE", p.Location.Country)
	assert.Nil(t, (*Profile)(nil).Clone())
}

func TestMemoryStore_LocationRequiresFeature(t *testing.T) {
	ctx := context.Background()
	var lookedUp []string
	store := NewMemoryStore(WithLocator(func(ip string) (Location, bool) {
		lookedUp = append(lookedUp, ip)
		return Location{Country: "DE", City: "Berlin"}, true
	}))

	tests := []struct {
		name     string
		req      UpsertRequest
		location *Location
	}{
		{
			name: "no features",
			req:  UpsertRequest{ProfileID: "p1"},
		},
		{
			name: "ip enrichment only",
			req:  UpsertRequest{ProfileID: "p1", Features: []consent.Feature{consent.FeatureIPEnrichment}, IP: "203.0.113.7"},
		},
		{
			name:     "location enabled",
			req:      UpsertRequest{ProfileID: "p1", Features: []consent.Feature{consent.FeatureLocation}, IP: "203.0.113.7"},
			location: &Location{Country: "DE", City: "Berlin"},
		},
		{
			name: "location withdrawn",
			req:  UpsertRequest{ProfileID: "p1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := store.UpsertProfile(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.location, p.Location)
		})
	}
	assert.Equal(t, []string{"203.0.113.7"}, lookedUp)
}
