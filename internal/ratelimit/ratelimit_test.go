package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutor(t *testing.T, limiter *Limiter, cfg Config) *Executor {
	t.Helper()
	return NewExecutor(limiter, cfg, testLogger(), nil)
}

// --- Limiter ---

func TestLimiter_UnderQuotaDoesNotWait(t *testing.T) {
	l := NewLimiter(200*time.Millisecond, 3, nil)

	for i := 0; i < 3; i++ {
		waited, err := l.Acquire(t.Context(), "svc:ep")
		require.NoError(t, err)
		assert.Zero(t, waited)
	}
}

func TestLimiter_BlocksUntilOldestAgesOut(t *testing.T) {
	window := 200 * time.Millisecond
	l := NewLimiter(window, 2, nil)

	start := time.Now()
	_, err := l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)
	_, err = l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)

	// Third call must block until the first timestamp leaves the window.
	waited, err := l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, window-20*time.Millisecond)
	assert.Positive(t, waited)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(time.Minute, 1, nil)

	_, err := l.Acquire(t.Context(), "svc:busy")
	require.NoError(t, err)

	// A different key must not be throttled by the busy one.
	waited, err := l.Acquire(t.Context(), "svc:idle")
	require.NoError(t, err)
	assert.Zero(t, waited)
}

func TestLimiter_PerKeyQuotaOverride(t *testing.T) {
	l := NewLimiter(time.Minute, 50, map[string]int{"slack:conversations.list": 20})

	assert.Equal(t, 20, l.Quota("slack:conversations.list"))
	assert.Equal(t, 50, l.Quota("slack:conversations.history"))
}

func TestLimiter_RetryAfterHonoredBeforeWindow(t *testing.T) {
	l := NewLimiter(time.Minute, 100, nil)
	l.SetRetryAfter("svc:ep", 150*time.Millisecond)

	start := time.Now()
	waited, err := l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 130*time.Millisecond)
	assert.Positive(t, waited)

	// The deadline is cleared once passed; the next call is immediate.
	waited, err = l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)
	assert.Zero(t, waited)
}

func TestLimiter_CancellationReleasesWaiter(t *testing.T) {
	l := NewLimiter(time.Minute, 1, nil)

	_, err := l.Acquire(t.Context(), "svc:ep")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Acquire(ctx, "svc:ep")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The per-key lock must have been released; another caller with a
	// live context can still wait its turn.
	done := make(chan error, 1)
	go func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel2()
		_, err := l.Acquire(ctx2, "svc:ep")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter never acquired the per-key lock")
	}
}

// --- Executor ---

func TestExecutor_SuccessFirstTry(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), DefaultConfig())

	attempts := 0
	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutor_PermanentNeverRetried(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), DefaultConfig())

	cause := errors.New("channel_not_found")
	attempts := 0
	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		return Permanent(cause)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors get exactly one attempt")
	assert.ErrorIs(t, err, cause)
}

func TestExecutor_AlreadyDoneIsSuccess(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), DefaultConfig())

	attempts := 0
	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		return AlreadyDone(errors.New("already_reacted"))
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutor_RateLimitedRetriesAfterSignaledDelay(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), Config{
		MaxAttempts:      3,
		UnavailableDelay: 10 * time.Millisecond,
		BackoffBase:      time.Millisecond,
		BackoffCap:       10 * time.Millisecond,
	})

	retryAfter := 150 * time.Millisecond
	attempts := 0
	start := time.Now()

	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return RateLimited(errors.New("ratelimited"), retryAfter)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), retryAfter-20*time.Millisecond)
}

func TestExecutor_UnavailableRetriesAfterFixedCooldown(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), Config{
		MaxAttempts:      3,
		UnavailableDelay: 100 * time.Millisecond,
		BackoffBase:      time.Millisecond,
		BackoffCap:       10 * time.Millisecond,
	})

	attempts := 0
	start := time.Now()

	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return Unavailable(errors.New("status 503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExecutor_UnclassifiedBackoffIsCapped(t *testing.T) {
	cfg := Config{
		MaxAttempts:      5,
		UnavailableDelay: time.Millisecond,
		BackoffBase:      10 * time.Millisecond,
		BackoffCap:       20 * time.Millisecond,
	}
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), cfg)

	assert.Equal(t, 10*time.Millisecond, x.backoff(0))
	assert.Equal(t, 20*time.Millisecond, x.backoff(1))
	assert.Equal(t, 20*time.Millisecond, x.backoff(4), "delay never exceeds the cap")

	cause := errors.New("flaky")
	attempts := 0
	err := x.Do(t.Context(), "svc", "ep", func(context.Context) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, cfg.MaxAttempts, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, cfg.MaxAttempts, exhausted.Attempts)
	assert.ErrorIs(t, err, cause, "aggregate failure preserves the last cause")
}

func TestExecutor_CancellationObservedBetweenAttempts(t *testing.T) {
	x := testExecutor(t, NewLimiter(time.Minute, 100, nil), Config{
		MaxAttempts:      5,
		UnavailableDelay: 10 * time.Second,
		BackoffBase:      time.Millisecond,
		BackoffCap:       10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := x.Do(ctx, "svc", "ep", func(context.Context) error {
		return Unavailable(errors.New("status 503"))
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
