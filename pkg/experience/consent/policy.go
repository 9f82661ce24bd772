package consent

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/wildcard"
)

// Feature names an optional capability a policy may enable.
type Feature string

const (
	// FeatureIPEnrichment lets the profile store derive data from the visitor's IP.
	FeatureIPEnrichment Feature = "ip-enrichment"
	// FeatureLocation lets the profile store resolve the visitor's location.
	FeatureLocation Feature = "location"
)

// ErrInvalidPolicy is wrapped by policy validation errors.
var ErrInvalidPolicy = errors.New("invalid consent policy")

// Policy is the allow-list applied while the gate is in one consent state.
// List fields are glob patterns as understood by package wildcard.
type Policy struct {
	AllowedEvents               []event.Type `yaml:"allowed_events" json:"allowedEvents"`
	AllowedPageEventProperties  []string     `yaml:"allowed_page_event_properties" json:"allowedPageEventProperties"`
	AllowedTrackEvents          []string     `yaml:"allowed_track_events" json:"allowedTrackEvents"`
	AllowedTrackEventProperties []string     `yaml:"allowed_track_event_properties" json:"allowedTrackEventProperties"`
	AllowedTraits               []string     `yaml:"allowed_traits" json:"allowedTraits"`
	BlockProfileMerging         bool         `yaml:"block_profile_merging" json:"blockProfileMerging"`
	EnabledFeatures             []Feature    `yaml:"enabled_features" json:"enabledFeatures"`
}

// AllowsEvent reports whether events of type t may be forwarded.
func (p Policy) AllowsEvent(t event.Type) bool {
	return slices.Contains(p.AllowedEvents, t)
}

// AllowsTrackEvent reports whether a track event with the given name may be
// forwarded.
func (p Policy) AllowsTrackEvent(name string) bool {
	return wildcard.Compile(p.AllowedTrackEvents).Match(name)
}

// HasFeature reports whether f is enabled.
func (p Policy) HasFeature(f Feature) bool {
	return slices.Contains(p.EnabledFeatures, f)
}

// Validate checks that every allowed event type is known.
func (p Policy) Validate() error {
	for _, t := range p.AllowedEvents {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidPolicy, t)
		}
	}
	return nil
}

// AllowAll returns a policy that forwards everything unredacted.
func AllowAll() Policy {
	return Policy{
		AllowedEvents:               slices.Clone(event.Types),
		AllowedPageEventProperties:  []string{wildcard.All},
		AllowedTrackEvents:          []string{wildcard.All},
		AllowedTrackEventProperties: []string{wildcard.All},
		AllowedTraits:               []string{wildcard.All},
		EnabledFeatures:             []Feature{FeatureIPEnrichment, FeatureLocation},
	}
}

// DefaultPrivacyPolicy is the pre-consent default: page and track events
// only, track properties and traits stripped, no profile merging.
func DefaultPrivacyPolicy() Policy {
	return Policy{
		AllowedEvents:               []event.Type{event.TypePage, event.TypeTrack},
		AllowedPageEventProperties:  []string{wildcard.All},
		AllowedTrackEvents:          []string{wildcard.All},
		AllowedTrackEventProperties: []string{},
		AllowedTraits:               []string{},
		BlockProfileMerging:         true,
	}
}

// Policies holds one policy per consent state.
type Policies [2]Policy

// NewPolicies builds the table from the pre-consent and post-consent policies.
func NewPolicies(beforeConsent, afterConsent Policy) Policies {
	var p Policies
	p[NotAccepted] = beforeConsent
	p[Accepted] = afterConsent
	return p
}

// DefaultPolicies pairs DefaultPrivacyPolicy with AllowAll.
func DefaultPolicies() Policies {
	return NewPolicies(DefaultPrivacyPolicy(), AllowAll())
}

// For returns the policy that applies in state s.
func (p Policies) For(s State) Policy {
	if s == Accepted {
		return p[Accepted]
	}
	return p[NotAccepted]
}

// Validate validates both policies.
func (p Policies) Validate() error {
	for s, policy := range p {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%s policy: %w", State(s), err)
		}
	}
	return nil
}
