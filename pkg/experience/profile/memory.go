package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/audience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

// MemoryStore is an in-process Store for tests, demos, and the CLI.
//
// Identify events merge traits. An upsert for a new profile id that carries
// the anonymous id of an existing profile takes that profile over, which is
// how an anonymous visitor becomes a known user. Audiences are recomputed on
// every upsert. A location is resolved only for requests whose features
// include consent.FeatureLocation.
type MemoryStore struct {
	mu        sync.Mutex
	profiles  map[string]*Profile
	aliases   map[string]string
	audiences []audience.Audience
	evaluator *audience.Evaluator
	locate    Locator
	upserts   int
}

// Locator maps a visitor's IP, which may be empty, to a location.
type Locator func(ip string) (Location, bool)

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithAudiences sets the audiences evaluated on every upsert.
func WithAudiences(audiences ...audience.Audience) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.audiences = append(s.audiences, audiences...)
	}
}

// WithEvaluator sets the rule evaluator, e.g. one with custom operators.
func WithEvaluator(e *audience.Evaluator) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.evaluator = e
	}
}

// WithLocator sets how locations are resolved.
func WithLocator(l Locator) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.locate = l
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		profiles:  make(map[string]*Profile),
		aliases:   make(map[string]string),
		evaluator: audience.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertProfile implements Store.
func (s *MemoryStore) UpsertProfile(_ context.Context, req UpsertRequest) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	id := req.ProfileID
	if id == "" {
		id = uuid.NewString()
	}
	id = s.canonical(id)

	p, ok := s.profiles[id]
	if !ok {
		p = s.takeOver(id, req.Events)
	}

	for _, e := range req.Events {
		if e == nil {
			continue
		}
		if p.AnonymousID == "" && e.AnonymousID != "" {
			p.AnonymousID = e.AnonymousID
		}
		if e.Type == event.TypeIdentify && len(e.Traits) > 0 {
			if p.Traits == nil {
				p.Traits = make(map[string]any, len(e.Traits))
			}
			maps.Copy(p.Traits, e.Traits)
		}
	}

	p.Location = nil
	if s.locate != nil && req.HasFeature(consent.FeatureLocation) {
		if loc, ok := s.locate(req.IP); ok {
			p.Location = &loc
		}
	}

	if err := s.evaluate(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// GetProfile implements Store.
func (s *MemoryStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[s.canonical(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return p.Clone(), nil
}

// Upserts returns how many upserts the store has served.
func (s *MemoryStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Len returns the number of profiles.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

func (s *MemoryStore) canonical(id string) string {
	if target, ok := s.aliases[id]; ok {
		return target
	}
	return id
}

// takeOver creates profile id, adopting the profile of any anonymous id
// carried by events.
func (s *MemoryStore) takeOver(id string, events []*event.Event) *Profile {
	for _, e := range events {
		if e == nil || e.AnonymousID == "" || e.AnonymousID == id {
			continue
		}
		anonID := s.canonical(e.AnonymousID)
		prev, ok := s.profiles[anonID]
		if !ok {
			continue
		}
		delete(s.profiles, anonID)
		s.aliases[anonID] = id
		for alias, target := range s.aliases {
			if target == anonID {
				s.aliases[alias] = id
			}
		}
		prev.ID = id
		s.profiles[id] = prev
		return prev
	}
	p := &Profile{ID: id, Traits: map[string]any{}, Experiences: map[string]int{}}
	s.profiles[id] = p
	return p
}

func (s *MemoryStore) evaluate(p *Profile) error {
	if len(s.audiences) == 0 {
		p.Audiences = nil
		return nil
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	ids, err := s.evaluator.Match(s.audiences, doc)
	if err != nil {
		return err
	}
	p.Audiences = ids
	return nil
}
