package resilience

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency is the default number of concurrent upstream calls
const DefaultMaxConcurrency = 10

// ConcurrencyLimiter bounds the number of tasks running at once. Waiters are
// admitted in arrival order.
type ConcurrencyLimiter struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
	peak     atomic.Int64
	onChange func(delta int64)
}

// LimiterOption configures a ConcurrencyLimiter.
type LimiterOption func(*ConcurrencyLimiter)

// WithOnChange registers a callback invoked with +1 on admission and -1 on release.
func WithOnChange(fn func(delta int64)) LimiterOption {
	return func(l *ConcurrencyLimiter) {
		l.onChange = fn
	}
}

// NewConcurrencyLimiter creates a limiter admitting at most max tasks
func NewConcurrencyLimiter(max int, opts ...LimiterOption) *ConcurrencyLimiter {
	if max <= 0 {
		max = DefaultMaxConcurrency
	}
	l := &ConcurrencyLimiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	current := l.inFlight.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if l.onChange != nil {
		l.onChange(1)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			if l.onChange != nil {
				l.onChange(-1)
			}
			l.sem.Release(1)
		})
	}, nil
}

// Run executes task while holding a slot. The slot is released on every exit
// path, panics included.
func Run[T any](ctx context.Context, l *ConcurrencyLimiter, task func(context.Context) (T, error)) (T, error) {
	release, err := l.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	return task(ctx)
}

// InFlight returns the number of tasks currently holding a slot
func (l *ConcurrencyLimiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest InFlight value observed
func (l *ConcurrencyLimiter) Peak() int {
	return int(l.peak.Load())
}

// Max returns the configured capacity
func (l *ConcurrencyLimiter) Max() int {
	return int(l.max)
}
