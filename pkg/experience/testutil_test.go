package experience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
)

// callLog records "plugin:hook" entries across plugins in call order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string, hook plugin.Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name+":"+string(hook))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(hook plugin.Hook) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if len(c) > len(hook) && c[len(c)-len(hook)-1:] == ":"+string(hook) {
			n++
		}
	}
	return n
}

// recorder implements every plugin hook and records each call.
type recorder struct {
	name string
	log  *callLog

	failOn  plugin.Hook
	panicOn plugin.Hook
	initErr error

	threshold time.Duration
	builder   plugin.EventBuilder
	shared    *registry.Shared

	events      []*event.Event
	assignments []bucket.Assignment

	// replace, when set, is returned from start hooks.
	replace func(*event.Event) *event.Event
}

func newRecorder(name string, log *callLog) *recorder {
	return &recorder{name: name, log: log}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) hit(hook plugin.Hook) error {
	r.log.add(r.name, hook)
	if r.panicOn == hook {
		panic("boom in " + string(hook))
	}
	if r.failOn == hook {
		return errors.New(string(hook) + " failed")
	}
	return nil
}

func (r *recorder) SetEventBuilder(b plugin.EventBuilder) { r.builder = b }

func (r *recorder) SetShared(s *registry.Shared) { r.shared = s }

func (r *recorder) Initialize(context.Context) error {
	if err := r.hit(plugin.HookInitialize); err != nil {
		return err
	}
	return r.initErr
}

func (r *recorder) Ready(context.Context) error { return r.hit(plugin.HookReady) }

func (r *recorder) start(hook plugin.Hook, e *event.Event) (*event.Event, error) {
	if err := r.hit(hook); err != nil {
		return nil, err
	}
	if r.replace != nil {
		return r.replace(e), nil
	}
	return nil, nil
}

func (r *recorder) PageStart(_ context.Context, e *event.Event) (*event.Event, error) {
	return r.start(plugin.HookPageStart, e)
}

func (r *recorder) TrackStart(_ context.Context, e *event.Event) (*event.Event, error) {
	return r.start(plugin.HookTrackStart, e)
}

func (r *recorder) IdentifyStart(_ context.Context, e *event.Event) (*event.Event, error) {
	return r.start(plugin.HookIdentifyStart, e)
}

func (r *recorder) handle(hook plugin.Hook, e *event.Event) error {
	r.events = append(r.events, e)
	return r.hit(hook)
}

func (r *recorder) Page(_ context.Context, e *event.Event) error {
	return r.handle(plugin.HookPage, e)
}

func (r *recorder) Track(_ context.Context, e *event.Event) error {
	return r.handle(plugin.HookTrack, e)
}

func (r *recorder) Identify(_ context.Context, e *event.Event) error {
	return r.handle(plugin.HookIdentify, e)
}

func (r *recorder) ComponentView(_ context.Context, e *event.Event, a bucket.Assignment) error {
	r.assignments = append(r.assignments, a)
	return r.handle(plugin.HookComponentView, e)
}

func (r *recorder) ComponentSeen(_ context.Context, e *event.Event, a bucket.Assignment) error {
	r.assignments = append(r.assignments, a)
	return r.handle(plugin.HookComponentSeen, e)
}

func (r *recorder) ComponentViewTrackingThreshold() time.Duration { return r.threshold }

func (r *recorder) Close(context.Context) error { return r.hit(plugin.HookClose) }

// trackOnly handles track events and nothing else.
type trackOnly struct {
	name  string
	count int
}

func (t *trackOnly) Name() string { return t.name }

func (t *trackOnly) Track(context.Context, *event.Event) error {
	t.count++
	return nil
}

// failingStore fails every upsert.
type failingStore struct{ err error }

func (f failingStore) UpsertProfile(context.Context, profile.UpsertRequest) (*profile.Profile, error) {
	return nil, f.err
}

func (f failingStore) GetProfile(context.Context, string) (*profile.Profile, error) {
	return nil, f.err
}

// newTestPipeline builds a pipeline with logging disabled.
func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(nil)}, opts...)
	p, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// register registers plugins and initializes them.
func register(t *testing.T, p *Pipeline, plugins ...plugin.Plugin) {
	t.Helper()
	for _, pl := range plugins {
		require.NoError(t, p.Register(pl))
	}
	require.NoError(t, p.InitializeAll(context.Background()))
}

func allowAllPolicies() consent.Policies {
	return consent.NewPolicies(consent.AllowAll(), consent.AllowAll())
}

func heroExperience(t *testing.T) bucket.Experience {
	t.Helper()
	dist, err := bucket.NewDistribution(0.5, 0.5)
	require.NoError(t, err)
	return bucket.Experience{
		ID:           "exp-hero",
		Type:         bucket.TypeExperiment,
		Traffic:      1,
		Distribution: dist,
		Components: bucket.Components{
			Baseline: bucket.Variant{ID: "hero-a"},
			Variants: []bucket.Variant{{ID: "hero-b"}},
		},
	}
}

// echo emits a track event named follow for every track event named on.
type echo struct {
	name    string
	on      string
	follow  string
	emitter plugin.Emitter
	tracked []string

	// onTrack, when set, runs inside the track handler.
	onTrack func()
}

func (e *echo) Name() string { return e.name }

func (e *echo) SetEmitter(em plugin.Emitter) { e.emitter = em }

func (e *echo) Track(_ context.Context, ev *event.Event) error {
	e.tracked = append(e.tracked, ev.Name)
	if e.onTrack != nil {
		e.onTrack()
	}
	if e.follow != "" && ev.Name == e.on {
		e.emitter.Emit(event.NewTrack(e.follow, nil))
	}
	return nil
}
