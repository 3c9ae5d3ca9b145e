package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig tunes [RetryLinear].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxRetries is the number of retries after the first attempt. Default: 3.
	MaxRetries int

	// BaseDelay is multiplied by the retry number to get the wait before that
	// retry: BaseDelay, 2×BaseDelay, 3×BaseDelay... Default: 2s.
	BaseDelay time.Duration

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool

	// Sleep, when set, replaces the go-retry timer. It waits for d or until
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
}

// RetryLinear calls fn until it succeeds, returns a non-retryable error, ctx
// is cancelled, or MaxRetries retries have been spent. The delay grows
// linearly with the attempt number. The last error is returned wrapped.
func RetryLinear[R any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (R, error)) (R, error) {
	cfg.applyDefaults()

	var (
		result   R
		attempts int
		lastErr  error
		gaveUp   bool
	)
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if attempts > cfg.MaxRetries {
			gaveUp = true
			return 0, true
		}
		delay := cfg.BaseDelay * time.Duration(attempts)
		slog.Warn("retrying after transient error",
			"name", cfg.Name,
			"attempt", attempts,
			"delay", delay,
			"err", lastErr)
		if cfg.Sleep == nil {
			return delay, false
		}
		// The substitute already waited; go-retry only re-checks ctx.
		if cfg.Sleep(ctx, delay) != nil {
			return 0, true
		}
		return 0, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := fn(ctx)
		if err == nil {
			result = r
			return nil
		}
		lastErr = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		return retry.RetryableError(err)
	})

	var zero R
	switch {
	case err == nil:
		return result, nil
	case gaveUp:
		return zero, fmt.Errorf("resilience: %s: gave up after %d attempts: %w", cfg.Name, attempts, lastErr)
	case ctx.Err() != nil:
		return zero, ctx.Err()
	default:
		return zero, err
	}
}
