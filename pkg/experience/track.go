package experience

import (
	"context"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

// Page dispatches a page view.
func (p *Pipeline) Page(ctx context.Context, properties map[string]any, opts ...event.Option) (Result, error) {
	return p.Dispatch(ctx, p.builder.Page(properties, opts...))
}

// Track dispatches a named track event.
func (p *Pipeline) Track(ctx context.Context, name string, properties map[string]any, opts ...event.Option) (Result, error) {
	return p.Dispatch(ctx, p.builder.Track(name, properties, opts...))
}

// Identify dispatches an identify event and, when the consent policy lets it
// through, merges the surviving user id and traits into the visitor's
// profile. A user id removed by the policy updates the current profile
// instead of merging into the user's.
func (p *Pipeline) Identify(ctx context.Context, userID string, traits map[string]any, opts ...event.Option) (Result, error) {
	res, err := p.Dispatch(ctx, p.builder.Identify(userID, traits, opts...))
	if err != nil || res.Blocked {
		return res, err
	}
	if _, err := p.profiles.Identify(ctx, res.Event.UserID, res.Event.Traits); err != nil {
		return res, transportError("identify", err)
	}
	return res, nil
}

// TrackComponentView dispatches a component view.
func (p *Pipeline) TrackComponentView(ctx context.Context, c event.Component, opts ...event.Option) (Result, error) {
	return p.Dispatch(ctx, p.builder.ComponentView(c, opts...))
}

// TrackHasSeenComponent dispatches a component seen event, sent once a
// component stayed visible past ComponentViewTrackingThreshold.
func (p *Pipeline) TrackHasSeenComponent(ctx context.Context, c event.Component, opts ...event.Option) (Result, error) {
	return p.Dispatch(ctx, p.builder.ComponentSeen(c, opts...))
}
