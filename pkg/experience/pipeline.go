package experience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// PluginState is the lifecycle position of a registered plugin.
type PluginState int

const (
	// StateRegistered plugins have not been initialized, or their
	// initializer failed.
	StateRegistered PluginState = iota
	// StateInitialized plugins passed Initialize but not yet Ready.
	StateInitialized
	// StateReady plugins receive events.
	StateReady
)

// String returns the state name.
func (s PluginState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	default:
		return "registered"
	}
}

// PluginStatus describes one registered plugin.
type PluginStatus struct {
	Name    string        `json:"name"`
	State   string        `json:"state"`
	Hooks   []plugin.Hook `json:"hooks"`
	InitErr string        `json:"initError,omitempty"`
}

type pluginEntry struct {
	plugin  plugin.Plugin
	state   PluginState
	initErr error
}

// Pipeline routes visitor events through the consent gate to registered
// plugins.
//
// Dispatches are serialized: plugin hooks never run concurrently with each
// other, and each plugin sees events in dispatch order. Hooks run under the
// dispatch lock, so a hook calling Dispatch, Page, Track, Identify, or the
// lifecycle methods deadlocks; plugins send follow-up events through
// plugin.Emitter.
type Pipeline struct {
	cfg pipelineConfig

	gate     *consent.Gate
	profiles *profile.Manager
	builder  *event.Builder
	shared   *registry.Shared

	experiences *registry.Registry[string, bucket.Experience]
	names       *registry.Registry[string, *pluginEntry]

	ownsStorage bool

	// mu serializes dispatch, lifecycle, and registration.
	mu      sync.Mutex
	entries []*pluginEntry
	closed  bool

	emitMu  sync.Mutex
	emitted []*event.Event

	// thresholdMu guards thresholds. Readers never take mu.
	thresholdMu sync.RWMutex
	thresholds  []plugin.ComponentViewThresholdProvider
}

// New creates a pipeline. The consent state is read from storage before New
// returns.
func New(ctx context.Context, opts ...Option) (*Pipeline, error) {
	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pipeline{
		cfg:         cfg,
		builder:     event.NewBuilder(cfg.eventContext),
		shared:      cfg.shared,
		experiences: registry.New[string, bucket.Experience](),
		names:       registry.New[string, *pluginEntry](),
	}
	if p.shared == nil {
		p.shared = registry.NewShared()
	}
	for _, exp := range cfg.experiences {
		if err := exp.Validate(); err != nil {
			return nil, &ConfigurationError{Component: "experience", Err: err}
		}
		p.experiences.Register(exp.ID, exp)
	}

	if cfg.storage == nil {
		cfg.storage = storage.NewMemoryStorage()
		p.cfg.storage = cfg.storage
		p.ownsStorage = true
	}
	if cfg.store == nil {
		cfg.store = profile.NewMemoryStore()
	}

	gate, err := consent.New(ctx, cfg.storage, cfg.policies,
		consent.WithLogger(cfg.logger),
		consent.WithMetrics(cfg.metrics),
		consent.WithQueueCapacity(cfg.queueCapacity),
	)
	if err != nil {
		p.closeStorage()
		return nil, &ConfigurationError{Component: "consent", Err: err}
	}
	p.gate = gate

	profiles, err := profile.NewManager(cfg.store, cfg.storage,
		profile.WithLogger(cfg.logger),
		profile.WithMetrics(cfg.metrics),
		profile.WithAnonymousIDTTL(cfg.anonymousIDTTL),
		profile.WithEventBuilder(p.builder),
		profile.WithFeatures(gate.Features),
	)
	if err != nil {
		p.closeStorage()
		return nil, &ConfigurationError{Component: "profile", Err: err}
	}
	p.profiles = profiles
	return p, nil
}

// Gate returns the consent gate.
func (p *Pipeline) Gate() *consent.Gate { return p.gate }

// Profiles returns the profile identity manager.
func (p *Pipeline) Profiles() *profile.Manager { return p.profiles }

// Shared returns the shared debug context handed to plugins.
func (p *Pipeline) Shared() *registry.Shared { return p.shared }

// Builder returns the event builder stamping the pipeline's event context.
func (p *Pipeline) Builder() *event.Builder { return p.builder }

// Register adds a plugin. Plugins are called in registration order.
func (p *Pipeline) Register(pl plugin.Plugin) error {
	if pl == nil || pl.Name() == "" {
		return &ConfigurationError{Component: "plugin", Err: ErrNilPlugin}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	entry := &pluginEntry{plugin: pl}
	if !p.names.RegisterIfAbsent(pl.Name(), entry) {
		return &ConfigurationError{
			Component: "plugin",
			Err:       fmt.Errorf("%w: %s", ErrDuplicatePlugin, pl.Name()),
		}
	}
	p.entries = append(p.entries, entry)

	if tp, ok := pl.(plugin.ComponentViewThresholdProvider); ok {
		p.thresholdMu.Lock()
		p.thresholds = append(p.thresholds, tp)
		p.thresholdMu.Unlock()
	}
	if sc, ok := pl.(plugin.SharedConsumer); ok {
		sc.SetShared(p.shared)
	}
	return nil
}

// Plugins reports every registered plugin in registration order.
func (p *Pipeline) Plugins() []PluginStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PluginStatus, 0, len(p.entries))
	for _, e := range p.entries {
		st := PluginStatus{
			Name:  e.plugin.Name(),
			State: e.state.String(),
			Hooks: plugin.Hooks(e.plugin),
		}
		if e.initErr != nil {
			st.InitErr = e.initErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// InitializeAll runs every pending Initializer in registration order, then
// every ReadyHook. A failing plugin stays registered and is retried by the
// next call; it never blocks its siblings. The returned error joins the
// individual failures.
func (p *Pipeline) InitializeAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	return p.initializeLocked(ctx)
}

func (p *Pipeline) initializeLocked(ctx context.Context) error {
	var errs []error
	for _, e := range p.entries {
		if e.state != StateRegistered {
			continue
		}
		if c, ok := e.plugin.(plugin.EventBuilderConsumer); ok {
			c.SetEventBuilder(p.builder)
		}
		if c, ok := e.plugin.(plugin.EmitterConsumer); ok {
			c.SetEmitter(emitter{p})
		}
		if in, ok := e.plugin.(plugin.Initializer); ok {
			if err := p.callHook(ctx, e.plugin, plugin.HookInitialize, func(ctx context.Context) error {
				return in.Initialize(ctx)
			}); err != nil {
				e.initErr = err
				errs = append(errs, err)
				continue
			}
		}
		e.initErr = nil
		e.state = StateInitialized
	}

	for _, e := range p.entries {
		if e.state != StateInitialized {
			continue
		}
		if r, ok := e.plugin.(plugin.ReadyHook); ok {
			if err := p.callHook(ctx, e.plugin, plugin.HookReady, func(ctx context.Context) error {
				return r.Ready(ctx)
			}); err != nil {
				errs = append(errs, err)
			}
		}
		e.state = StateReady
		observability.LogPluginReady(p.cfg.logger, e.plugin.Name())
	}
	return errors.Join(errs...)
}

// hasPending reports whether a plugin awaits its first initialization.
func (p *Pipeline) hasPending() bool {
	for _, e := range p.entries {
		if e.state == StateRegistered && e.initErr == nil {
			return true
		}
	}
	return false
}

// active returns the plugins that receive events.
func (p *Pipeline) active() []plugin.Plugin {
	out := make([]plugin.Plugin, 0, len(p.entries))
	for _, e := range p.entries {
		if e.state == StateReady {
			out = append(out, e.plugin)
		}
	}
	return out
}

// callHook runs fn for one plugin hook with panic recovery, tracing, and
// metrics. Failures come back as *PluginHandlerError and are logged.
func (p *Pipeline) callHook(ctx context.Context, pl plugin.Plugin, hook plugin.Hook, fn func(context.Context) error) (err error) {
	name := pl.Name()
	hookCtx, span := p.cfg.spans.StartPluginSpan(ctx, name, string(hook))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Plugin: name,
				Hook:   hook,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
		if err != nil {
			err = &PluginHandlerError{Plugin: name, Hook: hook, Err: err}
			observability.LogPluginError(p.cfg.logger, name, string(hook), err)
		}
		p.cfg.metrics.RecordPluginCall(hookCtx, name, string(hook), time.Since(start), err)
		p.cfg.spans.EndSpanWithError(span, err)
	}()

	return fn(hookCtx)
}

// Consent records the visitor's consent decision. The next dispatch observes
// the new state; blocked events are not replayed.
func (p *Pipeline) Consent(ctx context.Context, accepted bool) error {
	return p.gate.Consent(ctx, accepted)
}

// Reset forgets the visitor's identity. The next dispatch starts a new
// anonymous profile.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.profiles.Reset(ctx)
}

// ResolveExperience returns the visitor's variant for exp, computing it once
// per profile. The experience is remembered for later component events.
func (p *Pipeline) ResolveExperience(ctx context.Context, exp bucket.Experience) (bucket.Assignment, error) {
	if err := exp.Validate(); err != nil {
		return bucket.Assignment{}, &ConfigurationError{Component: "experience", Err: err}
	}
	p.experiences.Register(exp.ID, exp)

	a, err := p.profiles.Assign(ctx, exp)
	if err != nil {
		return bucket.Assignment{}, transportError("resolve", err)
	}
	return a, nil
}

// ComponentViewTrackingThreshold returns the smallest positive threshold
// requested by any plugin, or DefaultComponentViewTrackingThreshold.
// Unlike the event methods it is safe to call from a plugin hook.
func (p *Pipeline) ComponentViewTrackingThreshold() time.Duration {
	p.thresholdMu.RLock()
	defer p.thresholdMu.RUnlock()

	var lowest time.Duration
	for _, tp := range p.thresholds {
		if d := tp.ComponentViewTrackingThreshold(); d > 0 && (lowest == 0 || d < lowest) {
			lowest = d
		}
	}
	if lowest == 0 {
		return DefaultComponentViewTrackingThreshold
	}
	return lowest
}

// Close calls plugin Closer hooks in reverse registration order, clears the
// shared context, and rejects further dispatches. Storage created by the
// pipeline is closed; caller-supplied storage is not.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, e := range slices.Backward(p.entries) {
		c, ok := e.plugin.(plugin.Closer)
		if !ok {
			continue
		}
		if err := p.callHook(ctx, e.plugin, plugin.HookClose, c.Close); err != nil {
			errs = append(errs, err)
		}
	}
	p.shared.Clear()
	if err := p.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) closeStorage() error {
	if !p.ownsStorage || p.cfg.storage == nil {
		return nil
	}
	return p.cfg.storage.Close()
}

// transportError wraps a profile failure in a *TransportError, taking the
// operation name from a *profile.StoreError when there is one.
func transportError(op string, err error) error {
	var se *profile.StoreError
	if errors.As(err, &se) {
		return &TransportError{Op: se.Op, Err: se.Err}
	}
	return &TransportError{Op: op, Err: err}
}
