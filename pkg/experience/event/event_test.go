package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

func TestNew_StampsIdentity(t *testing.T) {
	a := event.NewPage(nil)
	b := event.NewPage(nil)

	assert.NotEmpty(t, a.MessageID)
	assert.NotEqual(t, a.MessageID, b.MessageID)
	assert.NotZero(t, a.Timestamp)
	assert.Equal(t, event.TypePage, a.Type)
}

func TestStamp_KeepsExistingValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := event.NewTrack("click", nil, event.WithMessageID("msg-1"), event.WithTimestamp(ts))

	e.Stamp(time.Now())

	assert.Equal(t, "msg-1", e.MessageID)
	assert.Equal(t, ts.UnixMilli(), e.Timestamp)
	assert.True(t, e.Time().Equal(ts))
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want event.Type
	}{
		{"page", event.TypePage},
		{"track", event.TypeTrack},
		{"identify", event.TypeIdentify},
		{"componentView", event.TypeComponentView},
		{"component-seen", event.TypeComponentSeen},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := event.ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := event.ParseType("alias")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, event.NewPage(nil).Validate())
	assert.Error(t, event.NewTrack("", nil).Validate())
	assert.Error(t, event.NewComponentView(event.Component{}).Validate())
	assert.NoError(t, event.NewComponentView(event.Component{ComponentID: "hero"}).Validate())
	assert.Error(t, (&event.Event{Type: "bogus"}).Validate())
}

func TestClone_IsolatesMaps(t *testing.T) {
	orig := event.NewIdentify("u1", map[string]any{"plan": "pro"})
	orig.Component = &event.Component{ComponentID: "c"}

	c := orig.Clone()
	c.Traits["plan"] = "free"
	c.Component.ComponentID = "other"

	assert.Equal(t, "pro", orig.Traits["plan"])
	assert.Equal(t, "c", orig.Component.ComponentID)
	assert.Equal(t, orig.MessageID, c.MessageID)
}

func TestEvent_JSONFieldNames(t *testing.T) {
	e := event.NewTrack("signup", map[string]any{"plan": "pro"}, event.WithMessageID("m"))
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "m", raw["messageId"])
	assert.Equal(t, "signup", raw["event"])
	assert.Equal(t, "track", raw["type"])
}

func TestBuilder_UsesContext(t *testing.T) {
	b := event.NewBuilder(event.Context{URL: "https://example.com/a", Locale: "en-US"})
	e := b.ComponentSeen(event.Component{ComponentID: "hero", VariantIndex: 1})

	assert.Equal(t, event.TypeComponentSeen, e.Type)
	assert.Equal(t, "https://example.com/a", e.Context.URL)
	assert.NotEmpty(t, e.MessageID)

	b.SetContext(event.Context{URL: "https://example.com/b"})
	assert.Equal(t, "https://example.com/b", b.Track("x", nil).Context.URL)
}
