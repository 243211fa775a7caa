package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // 0.0 to 1.0

	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(err error, next time.Duration)
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	expBackoff := backoff.NewExponentialBackOff()
	if c.BaseDelay > 0 {
		expBackoff.InitialInterval = c.BaseDelay
	}
	if c.Multiplier >= 1 {
		expBackoff.Multiplier = c.Multiplier
	}
	if c.MaxDelay > 0 {
		expBackoff.MaxInterval = c.MaxDelay
	}
	expBackoff.RandomizationFactor = c.Jitter
	return expBackoff
}

// RetryIfWithResult runs fn until it succeeds, returns an error isRetryable
// rejects, or MaxAttempts is reached. The last error is returned unwrapped.
func RetryIfWithResult[T any](ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	operation := func() (T, error) {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithBackOff(cfg.backOff()),
	}
	if cfg.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(cfg.OnRetry))
	}

	res, err := backoff.Retry(ctx, operation, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// IsRetryable is the default predicate: everything except cancellation and
// an open circuit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
