package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errPermanent = errors.New("404 not found")

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
}

func retryable(err error) bool {
	return !errors.Is(err, errPermanent)
}

func TestRetryIfWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified int
	cfg := fastRetryConfig(3)
	cfg.OnRetry = func(err error, next time.Duration) { notified++ }

	got, err := RetryIfWithResult(context.Background(), cfg, retryable, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "bulbasaur", nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != "bulbasaur" {
		t.Errorf("Expected bulbasaur, got %q", got)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if notified != 2 {
		t.Errorf("Expected 2 retry notifications, got %d", notified)
	}
}

func TestRetryIfWithResult_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	transient := errors.New("503")

	_, err := RetryIfWithResult(context.Background(), fastRetryConfig(3), retryable, func(ctx context.Context) (int, error) {
		calls++
		return 0, transient
	})

	if !errors.Is(err, transient) {
		t.Errorf("Expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryIfWithResult_NonRetryableFailsFast(t *testing.T) {
	calls := 0

	_, err := RetryIfWithResult(context.Background(), fastRetryConfig(5), retryable, func(ctx context.Context) (int, error) {
		calls++
		return 0, errPermanent
	})

	if !errors.Is(err, errPermanent) {
		t.Errorf("Expected permanent error unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
}

func TestRetryIfWithResult_SingleAttempt(t *testing.T) {
	calls := 0
	_, _ = RetryIfWithResult(context.Background(), fastRetryConfig(0), retryable, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("503")
	})
	if calls != 1 {
		t.Errorf("Expected MaxAttempts<1 to mean one attempt, got %d", calls)
	}
}

func TestRetryIfWithResult_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := RetryIfWithResult(ctx, fastRetryConfig(10), retryable, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("503")
	})

	if err == nil {
		t.Fatal("Expected an error")
	}
	if calls != 1 {
		t.Errorf("Expected retries to stop after cancellation, got %d attempts", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrCircuitOpen, false},
		{context.Canceled, false},
		{errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
