// Package store provides keyed storage for protocol state. The Store
// interface decouples protocol logic from the backing so in-memory and
// persistent backings are interchangeable. Values carry their own
// expiry; Sweep only reclaims memory and is never relied on for
// correctness (expiry is checked at use time by callers).
package store

import "time"

// Store is a keyed arena for a single value type. Take is an atomic
// get-and-delete used for consume-exactly-once semantics.
type Store[V any] interface {
	Get(key string) (V, bool)
	Put(key string, value V) error
	Take(key string) (V, bool)
	Delete(key string)
	Sweep(now time.Time) int
}

// ExpiryFunc reports when a value expires. A zero time means the value
// never expires.
type ExpiryFunc[V any] func(V) time.Time

func expired[V any](fn ExpiryFunc[V], v V, now time.Time) bool {
	if fn == nil {
		return false
	}

	exp := fn(v)

	return !exp.IsZero() && now.After(exp)
}
