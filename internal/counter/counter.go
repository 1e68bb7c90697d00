// Package counter provides the fast key/value backends used for cooldown
// marks: a networked Redis implementation and an in-process map with the
// same TTL semantics, kept interchangeable behind one interface.
package counter

import (
	"context"
	"time"
)

// Backend is a volatile key -> value store with per-key expiry.
// A missing or expired key is reported via found=false, not an error;
// errors mean the backend itself could not be reached.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Name identifies the backend in logs.
	Name() string
}
