// Package profile owns the visitor's identity: the anonymous identifier, its
// persistence, and the cached profile fetched from the external profile store.
//
// Manager is the client-side identity manager. ServerResolver performs the
// same upsert inside an HTTP request and writes the anonymous-id cookie, so a
// server-rendered page and the client that hydrates it share one identity.
package profile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

// Location is the visitor's resolved location, when the store provides one.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Profile is the visitor record held by the profile store.
type Profile struct {
	ID          string         `json:"id"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	Traits      map[string]any `json:"traits"`
	Audiences   []string       `json:"audiences"`
	// Experiences maps experience id to the assigned variant index.
	Experiences map[string]int `json:"experiences"`
	Location    *Location      `json:"location,omitempty"`
}

// Clone returns a copy that shares no maps or slices with p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Traits = maps.Clone(p.Traits)
	c.Audiences = slices.Clone(p.Audiences)
	c.Experiences = maps.Clone(p.Experiences)
	if p.Location != nil {
		loc := *p.Location
		c.Location = &loc
	}
	return &c
}

// InAudience reports whether the profile belongs to the audience.
func (p *Profile) InAudience(id string) bool {
	return slices.Contains(p.Audiences, id)
}

// UpsertRequest is sent to the profile store.
type UpsertRequest struct {
	ProfileID string         `json:"profileId"`
	Events    []*event.Event `json:"events"`

	// Features are the optional capabilities the active consent policy
	// enables. Stores must not resolve a location unless it includes
	// consent.FeatureLocation.
	Features []consent.Feature `json:"features,omitempty"`

	// IP is the visitor's address, set only with consent.FeatureIPEnrichment.
	IP string `json:"ip,omitempty"`
}

// HasFeature reports whether f is enabled for this request.
func (r UpsertRequest) HasFeature(f consent.Feature) bool {
	return slices.Contains(r.Features, f)
}

// Store is the external profile store contract.
type Store interface {
	// UpsertProfile applies events to the profile and returns it.
	UpsertProfile(ctx context.Context, req UpsertRequest) (*Profile, error)

	// GetProfile returns a profile by id.
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

// ErrProfileNotFound is returned by stores for unknown profile ids.
var ErrProfileNotFound = errors.New("profile not found")

// ErrEmptyProfile means the store answered without a profile.
var ErrEmptyProfile = errors.New("profile store returned no profile")

// ErrIdentityReset means Reset discarded the identity a call was working
// with.
var ErrIdentityReset = errors.New("identity reset during profile request")

// StoreError wraps a failed profile store call. The manager's cached state is
// left untouched when one is returned, so the call can be retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("profile store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
