package profile

import (
	"errors"
	"net"
	"net/http"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// ServerResolver resolves profiles during server-side rendering.
//
// It reads the anonymous id from the request cookie, upserts synchronously,
// and writes the cookie back on the response. A client that later reads the
// cookie resolves the same identity.
type ServerResolver struct {
	store Store
	opts  []Option
	o     options
}

// NewServerResolver creates a resolver for store.
func NewServerResolver(store Store, opts ...Option) (*ServerResolver, error) {
	if store == nil {
		return nil, errors.New("profile: store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ServerResolver{store: store, opts: opts, o: o}, nil
}

// Resolve upserts a page view for the request's visitor and sets the
// anonymous-id cookie on w. ectx carries the page's url, referrer, locale,
// and user agent. The request's remote address is forwarded to the store
// when the features from WithFeatures enable IP enrichment.
func (s *ServerResolver) Resolve(w http.ResponseWriter, r *http.Request, ectx event.Context) (*Profile, error) {
	cookies := storage.NewCookieStorage(w, r, s.o.cookie)

	opts := append([]Option{}, s.opts...)
	opts = append(opts, WithEventBuilder(event.NewBuilder(ectx)), withClientIP(clientIP(r)))
	m, err := NewManager(s.store, cookies, opts...)
	if err != nil {
		return nil, err
	}

	p, err := m.Resolve(r.Context())
	if err != nil {
		return nil, err
	}
	// A newly generated or adopted id was already written by the manager;
	// an id that came in on the request only needs its expiry refreshed.
	if c, err := r.Cookie(storage.AnonymousIDKey); err == nil && c.Value == p.ID {
		if err := cookies.Set(r.Context(), storage.AnonymousIDKey, p.ID, s.o.ttl); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
