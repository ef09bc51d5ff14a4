package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chatterhq/slack-chatter/internal/metrics"
)

// Config holds the executor's retry policy.
type Config struct {
	// MaxAttempts bounds the total attempts per call, first try included.
	MaxAttempts int

	// UnavailableDelay is the fixed cooldown after a transient outage.
	UnavailableDelay time.Duration

	// BackoffBase is the first delay for unclassified failures; it
	// doubles per attempt up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig mirrors the policy the gateway ships with: seven
// attempts, one-minute cooldown on outages, 1s..60s backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      7,
		UnavailableDelay: time.Minute,
		BackoffBase:      time.Second,
		BackoffCap:       time.Minute,
	}
}

// Executor throttles and retries calls to a named downstream
// dependency. It acquires the key's rate-limit window before each
// attempt and classifies failures afterwards.
type Executor struct {
	limiter *Limiter
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor over the limiter. metrics may be nil.
func NewExecutor(limiter *Limiter, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}

	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}

	if cfg.UnavailableDelay <= 0 {
		cfg.UnavailableDelay = DefaultConfig().UnavailableDelay
	}

	return &Executor{limiter: limiter, cfg: cfg, logger: logger, metrics: m}
}

// Do runs fn under the (service, endpoint) key's quota, retrying per
// the failure class. It returns nil on success or a benign
// already-done result, the underlying error for permanent failures and
// cancellation, and an ExhaustedError once the attempt budget is spent.
func (x *Executor) Do(ctx context.Context, service, endpoint string, fn func(context.Context) error) error {
	key := service + ":" + endpoint

	var last error

	for attempt := 0; attempt < x.cfg.MaxAttempts; attempt++ {
		waited, err := x.limiter.Acquire(ctx, key)
		if err != nil {
			return err
		}

		if x.metrics != nil && waited > 0 {
			x.metrics.RateLimitWait.Observe(waited.Seconds())
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var (
			already     *AlreadyDoneError
			rateLimited *RateLimitedError
			unavailable *UnavailableError
			permanent   *PermanentError
		)

		switch {
		case errors.As(err, &already):
			x.logger.Debug("call reported no-op",
				slog.String("key", key),
				slog.String("result", already.Err.Error()),
			)

			return nil

		case errors.As(err, &permanent):
			return err

		case errors.As(err, &rateLimited):
			x.logger.Warn("rate limited by upstream",
				slog.String("key", key),
				slog.Duration("retry_after", rateLimited.RetryAfter),
				slog.Int("attempt", attempt+1),
			)
			// The cooldown is honored by the next Acquire, which
			// waits exactly the signaled delay before proceeding.
			x.limiter.SetRetryAfter(key, rateLimited.RetryAfter)

		case errors.As(err, &unavailable):
			x.logger.Warn("upstream unavailable",
				slog.String("key", key),
				slog.Int("attempt", attempt+1),
			)

			if attempt < x.cfg.MaxAttempts-1 {
				if serr := sleep(ctx, x.cfg.UnavailableDelay); serr != nil {
					return serr
				}
			}

		default:
			delay := x.backoff(attempt)
			x.logger.Warn("call failed, backing off",
				slog.String("key", key),
				slog.Duration("delay", delay),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

			if attempt < x.cfg.MaxAttempts-1 {
				if serr := sleep(ctx, delay); serr != nil {
					return serr
				}
			}
		}

		last = err

		if x.metrics != nil {
			x.metrics.BackendRetries.WithLabelValues(endpoint, classOf(err)).Inc()
		}
	}

	return &ExhaustedError{Key: key, Attempts: x.cfg.MaxAttempts, Err: last}
}

// backoff returns the doubling delay for an unclassified failure,
// capped at BackoffCap.
func (x *Executor) backoff(attempt int) time.Duration {
	d := x.cfg.BackoffBase << uint(attempt)
	if d > x.cfg.BackoffCap || d <= 0 {
		d = x.cfg.BackoffCap
	}

	return d
}
