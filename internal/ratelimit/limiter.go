// Package ratelimit throttles and retries calls to named external
// dependencies. Each (service, endpoint) key carries an independent
// sliding window of recent call timestamps plus an optional
// upstream-signaled cooldown deadline; keys never block each other.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the sliding window over which per-key quotas apply.
const DefaultWindow = time.Minute

// Limiter enforces per-key sliding-window quotas.
type Limiter struct {
	window       time.Duration
	defaultQuota int

	mu         sync.Mutex
	quotas     map[string]int
	keys       map[string]*window
	retryUntil map[string]time.Time
}

// window holds the recent call timestamps for one key. Its mutex
// serializes all window mutation for that key, including the waits, so
// concurrent callers line up rather than racing the quota.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// NewLimiter creates a limiter with the given window size, default
// per-window quota, and optional per-key quota overrides.
func NewLimiter(windowSize time.Duration, defaultQuota int, quotas map[string]int) *Limiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}

	l := &Limiter{
		window:       windowSize,
		defaultQuota: defaultQuota,
		quotas:       make(map[string]int, len(quotas)),
		keys:         make(map[string]*window),
		retryUntil:   make(map[string]time.Time),
	}

	for k, q := range quotas {
		l.quotas[k] = q
	}

	return l
}

// Quota returns the per-window quota for a key.
func (l *Limiter) Quota(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if q, ok := l.quotas[key]; ok {
		return q
	}

	return l.defaultQuota
}

// SetRetryAfter records an upstream-signaled cooldown for the key.
// Acquire honors the deadline before consulting the sliding window.
func (l *Limiter) SetRetryAfter(key string, d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	l.mu.Lock()
	if until.After(l.retryUntil[key]) {
		l.retryUntil[key] = until
	}
	l.mu.Unlock()
}

func (l *Limiter) entry(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		w = &window{}
		l.keys[key] = w
	}

	return w
}

func (l *Limiter) retryDeadline(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.retryUntil[key]
}

// clearRetry removes the deadline only if it is still the one we
// waited out, so a newer deadline set meanwhile survives.
func (l *Limiter) clearRetry(key string, until time.Time) {
	l.mu.Lock()
	if l.retryUntil[key].Equal(until) {
		delete(l.retryUntil, key)
	}
	l.mu.Unlock()
}

// Acquire blocks until the key may issue another call, then records
// the call timestamp. It returns the total time spent waiting.
// Cancellation releases the per-key lock and returns ctx.Err() without
// recording a call.
func (l *Limiter) Acquire(ctx context.Context, key string) (time.Duration, error) {
	quota := l.Quota(key)
	w := l.entry(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	var waited time.Duration

	for {
		now := time.Now()

		// An explicit Retry-After deadline takes priority over the
		// sliding window and is cleared once passed.
		if until := l.retryDeadline(key); until.After(now) {
			d := until.Sub(now)
			if err := sleep(ctx, d); err != nil {
				return waited, err
			}

			waited += d
			l.clearRetry(key, until)

			continue
		}

		// Prune timestamps that have aged out of the window.
		cutoff := now.Add(-l.window)
		recent := w.times[:0]

		for _, t := range w.times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}

		w.times = recent

		if quota <= 0 || len(w.times) < quota {
			w.times = append(w.times, time.Now())
			return waited, nil
		}

		// Full: suspend until the oldest timestamp exits the window.
		d := w.times[0].Add(l.window).Sub(now)
		if d <= 0 {
			continue
		}

		if err := sleep(ctx, d); err != nil {
			return waited, err
		}

		waited += d
	}
}

// sleep waits for d or until the context is done, whichever is first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
