package experience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
)

// Result describes the outcome of one dispatch.
type Result struct {
	// Event is the event as delivered to plugins, or nil when blocked.
	Event *event.Event

	// Blocked is true when the consent policy stopped the event. No plugin
	// saw it.
	Blocked bool

	// Reason explains a block.
	Reason string

	// Redacted lists fields the consent policy removed.
	Redacted []string

	// Assignment is the visitor's variant for component events.
	Assignment *bucket.Assignment

	// Delivered counts the plugin handlers invoked, including failed ones.
	Delivered int

	// PluginErrors holds hook failures. They never fail the dispatch.
	PluginErrors []*PluginHandlerError

	// Emitted holds the outcome of the events plugins emitted while this
	// one was dispatched, in emission order.
	Emitted []Result
}

func (r *Result) addError(err error) {
	var phe *PluginHandlerError
	if errors.As(err, &phe) {
		r.PluginErrors = append(r.PluginErrors, phe)
	}
}

// Dispatch sends e through the pipeline:
//  1. stamp a message id and timestamp when absent
//  2. resolve the visitor's profile and attach the anonymous id
//  3. apply the consent policy; blocked events stop here
//  4. run start hooks, then handlers, of every ready plugin in order
//  5. send the events plugins emitted along the way, each from step 1
//
// e is not modified. Plugin failures are reported on the Result; the
// returned error is reserved for invalid events, profile store failures, and
// a closed pipeline.
func (p *Pipeline) Dispatch(ctx context.Context, e *event.Event) (Result, error) {
	if err := checkEvent(e); err != nil {
		return Result{}, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, cerr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Result{}, ErrPipelineClosed
	}
	res, err := p.dispatchLocked(ctx, e)
	if err != nil {
		return res, err
	}
	res.Emitted = p.dispatchEmitted(ctx)
	return res, nil
}

func checkEvent(e *event.Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrUnknownEventType)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// dispatchLocked runs one checked event through the gate and the plugins.
// p.mu must be held.
func (p *Pipeline) dispatchLocked(ctx context.Context, e *event.Event) (res Result, err error) {
	start := time.Now()
	e = e.Clone()
	e.Stamp(p.cfg.now())
	eventType := string(e.Type)
	logger := observability.EnrichLogger(p.cfg.logger, e.MessageID, eventType)

	ctx, span := p.cfg.spans.StartDispatchSpan(ctx, eventType, e.MessageID)
	outcome := observability.OutcomeDelivered
	defer func() {
		if err != nil {
			outcome = observability.OutcomeFailed
		}
		p.cfg.metrics.RecordDispatch(ctx, eventType, outcome, time.Since(start))
		p.cfg.spans.EndSpanWithError(span, err)
	}()

	if _, rerr := p.profiles.Resolve(ctx); rerr != nil {
		return Result{}, transportError("resolve", rerr)
	}
	anonID, aerr := p.profiles.AnonymousID(ctx)
	if aerr != nil {
		return Result{}, transportError("resolve", aerr)
	}
	if e.AnonymousID == "" {
		e.AnonymousID = anonID
	}

	if p.hasPending() {
		// Failures are logged by callHook and retried by InitializeAll.
		_ = p.initializeLocked(ctx)
	}

	d := p.gate.Evaluate(ctx, e)
	if d.Blocked {
		outcome = observability.OutcomeBlocked
		return Result{Blocked: true, Reason: d.Reason}, nil
	}

	res = Result{Event: d.Event, Redacted: d.Redacted}
	plugins := p.active()

	if e.Type.IsComponent() {
		a := p.componentAssignment(ctx, res.Event.Component)
		res.Assignment = &a
	} else if !p.runStartHooks(ctx, plugins, &res) {
		outcome = observability.OutcomeBlocked
		return Result{
			Blocked:      true,
			Reason:       res.Reason,
			Redacted:     res.Redacted,
			PluginErrors: res.PluginErrors,
		}, nil
	}
	p.runHandlers(ctx, plugins, &res)

	observability.LogDispatch(logger, eventType, e.MessageID, res.Delivered, float64(time.Since(start).Milliseconds()))
	return res, nil
}

// runStartHooks lets each plugin replace res.Event before any handler runs.
// The event each hook leaves behind passes the consent gate again, so a hook
// cannot restore a field the policy removed. It reports false when the gate
// blocks the event, with the reason in res.Reason.
func (p *Pipeline) runStartHooks(ctx context.Context, plugins []plugin.Plugin, res *Result) bool {
	hook := plugin.StartHookFor(res.Event.Type)
	for _, pl := range plugins {
		fn := startHookFor(pl, res.Event.Type)
		if fn == nil {
			continue
		}
		current := res.Event
		var replacement *event.Event
		err := p.callHook(ctx, pl, hook, func(ctx context.Context) error {
			var err error
			replacement, err = fn(ctx, current)
			if err == nil && replacement != nil && replacement.Type != current.Type {
				err = fmt.Errorf("start hook changed event type from %s to %s", current.Type, replacement.Type)
			}
			return err
		})
		if err != nil {
			res.addError(err)
			continue
		}
		if replacement == nil {
			replacement = current
		}

		d := p.gate.Evaluate(ctx, replacement)
		if d.Blocked {
			res.Reason = d.Reason
			return false
		}
		res.Event = d.Event
		for _, f := range d.Redacted {
			if !slices.Contains(res.Redacted, f) {
				res.Redacted = append(res.Redacted, f)
			}
		}
	}
	return true
}

func startHookFor(pl plugin.Plugin, t event.Type) func(context.Context, *event.Event) (*event.Event, error) {
	switch t {
	case event.TypePage:
		if h, ok := pl.(plugin.PageStartHook); ok {
			return h.PageStart
		}
	case event.TypeTrack:
		if h, ok := pl.(plugin.TrackStartHook); ok {
			return h.TrackStart
		}
	case event.TypeIdentify:
		if h, ok := pl.(plugin.IdentifyStartHook); ok {
			return h.IdentifyStart
		}
	}
	return nil
}

// runHandlers calls the typed handler of every plugin in order, awaiting
// each before the next.
func (p *Pipeline) runHandlers(ctx context.Context, plugins []plugin.Plugin, res *Result) {
	hook := plugin.HandlerHookFor(res.Event.Type)
	for _, pl := range plugins {
		fn := handlerFor(pl, res.Event, res.Assignment)
		if fn == nil {
			continue
		}
		res.Delivered++
		if err := p.callHook(ctx, pl, hook, fn); err != nil {
			res.addError(err)
		}
	}
}

func handlerFor(pl plugin.Plugin, e *event.Event, a *bucket.Assignment) func(context.Context) error {
	switch e.Type {
	case event.TypePage:
		if h, ok := pl.(plugin.PageHandler); ok {
			return func(ctx context.Context) error { return h.Page(ctx, e) }
		}
	case event.TypeTrack:
		if h, ok := pl.(plugin.TrackHandler); ok {
			return func(ctx context.Context) error { return h.Track(ctx, e) }
		}
	case event.TypeIdentify:
		if h, ok := pl.(plugin.IdentifyHandler); ok {
			return func(ctx context.Context) error { return h.Identify(ctx, e) }
		}
	case event.TypeComponentView:
		if h, ok := pl.(plugin.ComponentViewHandler); ok {
			return func(ctx context.Context) error { return h.ComponentView(ctx, e, *a) }
		}
	case event.TypeComponentSeen:
		if h, ok := pl.(plugin.ComponentSeenHandler); ok {
			return func(ctx context.Context) error { return h.ComponentSeen(ctx, e, *a) }
		}
	}
	return nil
}

// componentAssignment resolves the visitor's variant for a component event.
// Known experiences are bucketed; otherwise the variant reported by the
// caller is used.
func (p *Pipeline) componentAssignment(ctx context.Context, c *event.Component) bucket.Assignment {
	if exp, ok := p.experiences.Get(c.ExperienceID); ok {
		a, err := p.profiles.Assign(ctx, exp)
		if err == nil {
			c.VariantIndex = a.VariantIndex
			return a
		}
		observability.LogProfileError(p.cfg.logger, "assign", err)
	}
	return bucket.Assignment{
		ExperienceID: c.ExperienceID,
		VariantIndex: c.VariantIndex,
		InExperience: c.ExperienceID != "",
	}
}

// maxEmitted bounds how many emitted events one Dispatch sends.
const maxEmitted = 64

// emitter queues plugin-emitted events until the running dispatch drains
// them.
type emitter struct{ p *Pipeline }

func (em emitter) Emit(e *event.Event) {
	if e == nil {
		return
	}
	em.p.emitMu.Lock()
	defer em.p.emitMu.Unlock()
	em.p.emitted = append(em.p.emitted, e.Clone())
}

func (p *Pipeline) nextEmitted() *event.Event {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if len(p.emitted) == 0 {
		return nil
	}
	e := p.emitted[0]
	p.emitted = p.emitted[1:]
	return e
}

// dispatchEmitted sends queued emitted events, including any emitted while
// sending them, oldest first. p.mu must be held.
func (p *Pipeline) dispatchEmitted(ctx context.Context) []Result {
	var out []Result
	for e := p.nextEmitted(); e != nil; e = p.nextEmitted() {
		if len(out) == maxEmitted {
			observability.LogEmitFailed(p.cfg.logger, string(e.Type), ErrEmitLimit)
			continue
		}
		if err := checkEvent(e); err != nil {
			observability.LogEmitFailed(p.cfg.logger, string(e.Type), err)
			continue
		}
		res, err := p.dispatchLocked(ctx, e)
		if err != nil {
			observability.LogEmitFailed(p.cfg.logger, string(e.Type), err)
			continue
		}
		out = append(out, res)
	}
	return out
}
