package storage

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// CookieOptions configures cookies written by CookieStorage.
type CookieOptions struct {
	Domain   string        `yaml:"domain" env:"DOMAIN"`
	Path     string        `yaml:"path" env:"PATH"`
	Secure   bool          `yaml:"secure" env:"SECURE"`
	SameSite http.SameSite `yaml:"-"`
}

// CookieStorage is a per-request Storage backed by HTTP cookies.
//
// Reads come from the incoming request; writes emit Set-Cookie headers on
// the response and are also visible to later reads on the same instance, so
// a value written while rendering is read back consistently for the rest of
// the request. Keys are used directly as cookie names.
type CookieStorage struct {
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions

	mu      sync.Mutex
	written map[string]*string // nil value marks a deletion
	now     func() time.Time
}

// NewCookieStorage creates a storage bound to one request/response pair.
func NewCookieStorage(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieStorage {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &CookieStorage{
		w:       w,
		r:       r,
		opts:    opts,
		written: make(map[string]*string),
		now:     time.Now,
	}
}

// Get implements Storage.
func (c *CookieStorage) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.written[key]; ok {
		if v == nil {
			return "", ErrNotFound
		}
		return *v, nil
	}
	cookie, err := c.r.Cookie(key)
	if err != nil || cookie.Value == "" {
		return "", ErrNotFound
	}
	return cookie.Value, nil
}

// Set implements Storage.
func (c *CookieStorage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie := c.cookie(key, value)
	if ttl > 0 {
		cookie.Expires = c.now().Add(ttl).UTC()
		cookie.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(c.w, cookie)
	c.written[key] = &value
	return nil
}

// Delete implements Storage.
func (c *CookieStorage) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie := c.cookie(key, "")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(c.w, cookie)
	c.written[key] = nil
	return nil
}

// Close implements Storage. Cookies need no cleanup.
func (c *CookieStorage) Close() error {
	return nil
}

func (c *CookieStorage) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.opts.Domain,
		Path:     c.opts.Path,
		Secure:   c.opts.Secure,
		SameSite: c.opts.SameSite,
	}
}
