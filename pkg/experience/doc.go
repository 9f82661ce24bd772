/*
Package experience provides a consent-aware personalization and analytics
event pipeline.

# Overview

A Pipeline captures page, track, identify, and component visibility events
for one visitor. Every event passes through the consent gate, which decides
whether it may leave the device and which of its fields survive, and is then
forwarded to zero or more plugins in registration order.

The pipeline also owns the visitor's identity (an anonymous id persisted in
storage plus the profile returned by the profile store) and assigns the
visitor to experiment and personalization variants deterministically.

# Basic Usage

	p, err := experience.New(ctx,
	    experience.WithStorage(storage.NewMemoryStorage()),
	    experience.WithProfileStore(profile.NewMemoryStore()),
	)
	if err != nil {
	    return err
	}
	defer p.Close(ctx)

	p.Register(buffer.New())
	if err := p.InitializeAll(ctx); err != nil {
	    log.Printf("some plugins failed to initialize: %v", err)
	}

	p.Page(ctx, map[string]any{"path": "/pricing"})
	p.Track(ctx, "signup_clicked", map[string]any{"plan": "pro"})

# Consent

Before the visitor consents, the before-consent policy applies; afterwards
the after-consent policy does. The policy is looked up on every dispatch:

	p.Consent(ctx, true)

Blocked events are not errors. Dispatch returns Result{Blocked: true} and no
plugin sees the event. Blocked events are kept in a bounded diagnostic queue
(see consent.Gate.Queue) and are never replayed automatically.

# Plugins

A plugin implements plugin.Plugin plus any optional hook interfaces from the
plugin package. Hooks run sequentially: each plugin's hook returns before
the next plugin's starts, so later plugins can rely on side effects of
earlier ones. A hook error or panic becomes a *PluginHandlerError on
Result.PluginErrors and never stops other plugins.

Start hooks may replace the event. Whatever a start hook returns passes the
consent gate again before later hooks and handlers see it.

Hooks run under the dispatch lock and must not call back into the pipeline's
event or lifecycle methods. A plugin that derives a new event from the one it
handles, such as a component seen event from a long enough view, implements
plugin.EmitterConsumer and emits it; the pipeline dispatches it through the
gate once the current handlers return. The outcomes are on Result.Emitted.

# Experiences

	a, err := p.ResolveExperience(ctx, exp)
	variant := exp.Variant(a)

The variant is computed once per profile and experience, from a hash of the
profile id and experience id (see bucket.Draw), so servers and clients agree.

# Error Handling

	var te *experience.TransportError
	if errors.As(err, &te) {
	    // profile store unreachable; cached profile untouched
	}

	var ce *experience.ConfigurationError
	if errors.As(err, &ce) {
	    // duplicate plugin, invalid policy, or malformed experience
	}

# Thread Safety

A Pipeline is safe for concurrent use. Dispatches are serialized, so plugin
hooks never run concurrently. ComponentViewTrackingThreshold, Gate, Profiles,
and Shared do not take the dispatch lock and may be called from hooks.
*/
package experience
