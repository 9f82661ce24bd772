// Package storage provides the durable key-value storage that keeps visitor
// identity and consent across page loads and between server and client.
//
// Implementations:
//   - MemoryStorage for tests and single-process use
//   - SQLiteStorage for a durable on-disk store
//   - RedisStorage for state shared between server instances
//   - CookieStorage for server-side rendering, backed by request/response cookies
package storage

import (
	"context"
	"errors"
	"time"
)

// Well-known keys.
const (
	// AnonymousIDKey stores the visitor's anonymous identifier. It doubles as
	// the cookie name so server and client read the same value.
	AnonymousIDKey = "ntaid"

	// ConsentKey stores the consent flag. The literal value ConsentAccepted
	// means consent was granted; any other value or absence means not.
	ConsentKey = "__nt-consent__"

	// ConsentAccepted is the stored value for granted consent.
	ConsentAccepted = "accepted"
)

// DefaultAnonymousIDTTL is how long the anonymous identifier persists.
const DefaultAnonymousIDTTL = 365 * 24 * time.Hour

// Storage persists small string values by key.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value for key.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates a key doesn't exist.
	ErrNotFound = errors.New("storage key not found")

	// ErrClosed indicates the storage has been closed.
	ErrClosed = errors.New("storage closed")
)

// GetOr returns the value for key, or fallback when the key is absent.
// Other errors are returned unchanged.
func GetOr(ctx context.Context, s Storage, key, fallback string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	return v, err
}
