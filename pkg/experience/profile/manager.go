package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/consent"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/observability"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

const resolveKey = "resolve"

// maxResolveAttempts bounds how often Resolve starts over after a concurrent
// Reset.
const maxResolveAttempts = 3

// Manager caches the visitor's profile and persists the anonymous id.
type Manager struct {
	store   Store
	storage storage.Storage
	opts    options

	group singleflight.Group

	idMu        sync.Mutex
	anonymousID string
	generation  uint64 // incremented by Reset

	mu     sync.RWMutex
	cached *Profile
}

// NewManager creates a manager backed by store, persisting identity in st.
func NewManager(store Store, st storage.Storage, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("profile: store is required")
	}
	if st == nil {
		return nil, errors.New("profile: storage is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{store: store, storage: st, opts: o}, nil
}

// Cached returns a copy of the cached profile, or nil.
func (m *Manager) Cached() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached.Clone()
}

// AnonymousID returns the persisted anonymous id, generating and persisting
// a new one when none exists.
func (m *Manager) AnonymousID(ctx context.Context) (string, error) {
	id, _, err := m.identity(ctx)
	return id, err
}

// identity returns the anonymous id and the reset generation it belongs to.
func (m *Manager) identity(ctx context.Context) (string, uint64, error) {
	m.idMu.Lock()
	defer m.idMu.Unlock()

	if m.anonymousID != "" {
		return m.anonymousID, m.generation, nil
	}
	id, err := storage.GetOr(ctx, m.storage, storage.AnonymousIDKey, "")
	if err != nil {
		return "", 0, fmt.Errorf("load anonymous id: %w", err)
	}
	if id == "" {
		id = m.opts.newID()
		if err := m.storage.Set(ctx, storage.AnonymousIDKey, id, m.opts.ttl); err != nil {
			return "", 0, fmt.Errorf("persist anonymous id: %w", err)
		}
	}
	m.anonymousID = id
	return id, m.generation, nil
}

// commit caches p unless Reset ran since gen was read. With adopt set, an id
// the store assigned replaces the persisted anonymous id.
func (m *Manager) commit(ctx context.Context, gen uint64, p *Profile, adopt bool) error {
	m.idMu.Lock()
	defer m.idMu.Unlock()

	if gen != m.generation {
		return ErrIdentityReset
	}
	if adopt && p.ID != "" && p.ID != m.anonymousID {
		if err := m.storage.Set(ctx, storage.AnonymousIDKey, p.ID, m.opts.ttl); err != nil {
			return fmt.Errorf("persist anonymous id: %w", err)
		}
		m.anonymousID = p.ID
	}
	m.setCached(p)
	return nil
}

// Resolve returns the cached profile, or upserts a page view and caches the
// result. Concurrent callers share one outstanding upsert, which runs to
// completion even when the caller that started it gives up. A Reset during
// the upsert discards its result and Resolve starts over with the new
// identity.
func (m *Manager) Resolve(ctx context.Context) (*Profile, error) {
	for range maxResolveAttempts {
		if p := m.Cached(); p != nil {
			return p, nil
		}
		ch := m.group.DoChan(resolveKey, func() (any, error) {
			return m.resolve(context.WithoutCancel(ctx))
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if errors.Is(r.Err, ErrIdentityReset) {
				continue
			}
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Val.(*Profile).Clone(), nil
		}
	}
	return nil, ErrIdentityReset
}

func (m *Manager) resolve(ctx context.Context) (*Profile, error) {
	if p := m.Cached(); p != nil {
		return p, nil
	}
	done := observability.TimedOperation()

	anonID, gen, err := m.identity(ctx)
	if err != nil {
		return nil, err
	}
	page := m.newPage(anonID)
	p, err := m.upsert(ctx, "resolve", UpsertRequest{ProfileID: anonID, Events: []*event.Event{page}})
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, gen, p, true); err != nil {
		return nil, err
	}
	observability.LogProfileResolved(m.opts.logger, p.ID, anonID, done())
	return p, nil
}

// Identify merges traits into the profile keyed by userID, or by the current
// profile when userID is empty, and refreshes the cache.
func (m *Manager) Identify(ctx context.Context, userID string, traits map[string]any) (*Profile, error) {
	anonID, gen, err := m.identity(ctx)
	if err != nil {
		return nil, err
	}

	profileID := userID
	if profileID == "" {
		profileID = anonID
		if p := m.Cached(); p != nil {
			profileID = p.ID
		}
	}

	e := event.NewIdentify(userID, traits, event.WithAnonymousID(anonID))
	if m.opts.builder != nil {
		e = m.opts.builder.Identify(userID, traits, event.WithAnonymousID(anonID))
	}
	p, err := m.upsert(ctx, "identify", UpsertRequest{ProfileID: profileID, Events: []*event.Event{e}})
	if err != nil {
		return nil, err
	}
	m.mergeAssignments(p)
	if err := m.commit(ctx, gen, p, false); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Reset clears the cached profile and the persisted anonymous id. The next
// Resolve starts a fresh identity; an upsert still in flight for the old one
// is discarded when it returns.
func (m *Manager) Reset(ctx context.Context) error {
	m.idMu.Lock()
	defer m.idMu.Unlock()

	if err := m.storage.Delete(ctx, storage.AnonymousIDKey); err != nil {
		return fmt.Errorf("clear anonymous id: %w", err)
	}
	m.anonymousID = ""
	m.generation++

	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	m.group.Forget(resolveKey)
	return nil
}

// Assign returns the visitor's variant for exp. The first in-experience
// assignment is recorded on the cached profile and returned unchanged by
// later calls until Reset.
func (m *Manager) Assign(ctx context.Context, exp bucket.Experience) (bucket.Assignment, error) {
	if err := exp.Validate(); err != nil {
		return bucket.Assignment{}, err
	}
	p, err := m.Resolve(ctx)
	if err != nil {
		return bucket.Assignment{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	draw := bucket.Draw(p.ID, exp.ID)
	if m.cached != nil {
		if idx, ok := m.cached.Experiences[exp.ID]; ok {
			return bucket.Assignment{ExperienceID: exp.ID, VariantIndex: idx, InExperience: true, Draw: draw}, nil
		}
	}

	a := bucket.Resolve(exp, p.ID)
	if a.InExperience && m.cached != nil {
		if m.cached.Experiences == nil {
			m.cached.Experiences = make(map[string]int)
		}
		m.cached.Experiences[exp.ID] = a.VariantIndex
	}
	return a, nil
}

func (m *Manager) newPage(anonID string) *event.Event {
	if m.opts.builder != nil {
		return m.opts.builder.Page(nil, event.WithAnonymousID(anonID))
	}
	return event.NewPage(nil, event.WithAnonymousID(anonID))
}

func (m *Manager) upsert(ctx context.Context, op string, req UpsertRequest) (*Profile, error) {
	if m.opts.features != nil {
		req.Features = m.opts.features()
	}
	if m.opts.clientIP != "" && req.HasFeature(consent.FeatureIPEnrichment) {
		req.IP = m.opts.clientIP
	}
	p, err := m.store.UpsertProfile(ctx, req)
	if err == nil && p == nil {
		err = ErrEmptyProfile
	}
	m.opts.metrics.RecordProfileUpsert(ctx, op, err)
	if err != nil {
		observability.LogProfileError(m.opts.logger, op, err)
		return nil, &StoreError{Op: op, Err: err}
	}
	return p.Clone(), nil
}

// mergeAssignments keeps locally recorded assignments the store did not echo.
func (m *Manager) mergeAssignments(p *Profile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil || len(m.cached.Experiences) == 0 {
		return
	}
	if p.Experiences == nil {
		p.Experiences = make(map[string]int, len(m.cached.Experiences))
	}
	for id, idx := range m.cached.Experiences {
		if _, ok := p.Experiences[id]; !ok {
			p.Experiences[id] = idx
		}
	}
}

func (m *Manager) setCached(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = p.Clone()
}
