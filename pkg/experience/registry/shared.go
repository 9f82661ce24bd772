package registry

import (
	"slices"
	"sort"
)

// DefaultAppendLimit bounds lists grown through Namespace.Append.
const DefaultAppendLimit = 500

// Shared is the namespaced debug context owned by a pipeline.
type Shared struct {
	namespaces  *Registry[string, *Namespace]
	appendLimit int
}

// SharedOption configures a Shared context.
type SharedOption func(*Shared)

// WithAppendLimit bounds how many values Append retains per key.
// Oldest values are dropped first. Zero or less disables the bound.
func WithAppendLimit(n int) SharedOption {
	return func(s *Shared) {
		s.appendLimit = n
	}
}

// NewShared creates an empty shared context.
func NewShared(opts ...SharedOption) *Shared {
	s := &Shared{
		namespaces:  New[string, *Namespace](),
		appendLimit: DefaultAppendLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the namespace with the given name, creating it if needed.
func (s *Shared) Namespace(name string) *Namespace {
	return s.namespaces.GetOrCreate(name, func() *Namespace {
		return &Namespace{name: name, values: New[string, any](), appendLimit: s.appendLimit}
	})
}

// Lookup returns an existing namespace without creating it.
func (s *Shared) Lookup(name string) (*Namespace, bool) {
	return s.namespaces.Get(name)
}

// Names returns the sorted namespace names.
func (s *Shared) Names() []string {
	names := s.namespaces.Keys()
	sort.Strings(names)
	return names
}

// Snapshot copies every namespace's values.
func (s *Shared) Snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any)
	s.namespaces.Range(func(name string, ns *Namespace) bool {
		out[name] = ns.Snapshot()
		return true
	})
	return out
}

// Clear drops every namespace.
func (s *Shared) Clear() {
	s.namespaces.Clear()
}

// Namespace holds one plugin's debug values.
type Namespace struct {
	name        string
	values      *Registry[string, any]
	appendLimit int
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Set stores a value.
func (n *Namespace) Set(key string, value any) {
	n.values.Register(key, value)
}

// Get returns a value.
func (n *Namespace) Get(key string) (any, bool) {
	return n.values.Get(key)
}

// Delete removes a value.
func (n *Namespace) Delete(key string) {
	n.values.Delete(key)
}

// Append adds value to the list stored under key and returns the new length.
// A non-list value already under key is replaced.
func (n *Namespace) Append(key string, value any) int {
	list := n.values.Update(key, func(cur any, _ bool) any {
		prev, _ := cur.([]any)
		next := make([]any, 0, len(prev)+1)
		next = append(next, prev...)
		next = append(next, value)
		if n.appendLimit > 0 && len(next) > n.appendLimit {
			next = next[len(next)-n.appendLimit:]
		}
		return next
	})
	return len(list.([]any))
}

// List returns a copy of the list stored under key.
func (n *Namespace) List(key string) []any {
	v, ok := n.values.Get(key)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return slices.Clone(list)
}

// Snapshot copies the namespace's values.
func (n *Namespace) Snapshot() map[string]any {
	return n.values.Snapshot()
}
