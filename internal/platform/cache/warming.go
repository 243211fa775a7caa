// Package cache provides the in-process TTL cache and startup warm-up support.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/neltoby/pokemon/internal/platform/observability"
)

// WarmupProvider pre-populates a cache with data it expects to be requested soon.
type WarmupProvider interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Warmup loads the provider's data. It must be safe to call more than once.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout bounds the whole warm-up run
	Timeout time.Duration

	// ContinueOnError keeps sequential warm-up going after a provider fails
	ContinueOnError bool

	// Parallel runs providers concurrently
	Parallel bool
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         60 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult is the outcome of one provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults aggregates a warm-up run.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any provider failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered providers. Failures are logged and reported in the
// results, never returned as errors.
type Warmer struct {
	mu        sync.Mutex
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	return &Warmer{
		logger: logger,
		config: config,
	}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.providers = append(w.providers, provider)
}

// Warmup runs every registered provider and returns the aggregate results.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()

	w.mu.Lock()
	providers := append([]WarmupProvider(nil), w.providers...)
	w.mu.Unlock()

	results := &WarmupResults{Results: make([]WarmupResult, 0, len(providers))}
	if len(providers) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx, providers)
	} else {
		results.Results = w.warmupSequential(warmupCtx, providers)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "cache warmup finished with errors",
			"failed", results.Errors,
			"providers", len(providers),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	} else {
		w.logger.LogInfo(ctx, "cache warmup finished",
			"providers", len(providers),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	}

	return results
}

// Start runs Warmup in a background goroutine. The returned channel receives
// the results once and is then closed.
func (w *Warmer) Start(ctx context.Context) <-chan *WarmupResults {
	done := make(chan *WarmupResults, 1)
	go func() {
		defer close(done)
		done <- w.Warmup(ctx)
	}()
	return done
}

func (w *Warmer) warmupParallel(ctx context.Context, providers []WarmupProvider) []WarmupResult {
	results := make([]WarmupResult, len(providers))

	var wg sync.WaitGroup
	for i, provider := range providers {
		wg.Add(1)
		go func(i int, p WarmupProvider) {
			defer wg.Done()
			results[i] = w.warmupProvider(ctx, p)
		}(i, provider)
	}
	wg.Wait()

	return results
}

func (w *Warmer) warmupSequential(ctx context.Context, providers []WarmupProvider) []WarmupResult {
	results := make([]WarmupResult, 0, len(providers))

	for _, provider := range providers {
		result := w.warmupProvider(ctx, provider)
		results = append(results, result)

		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	w.logger.LogDebug(ctx, "warming cache", "provider", name)

	err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, "cache warmup failed",
			"provider", name,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		w.logger.LogDebug(ctx, "cache warmup completed",
			"provider", name,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return WarmupResult{
		Provider: name,
		Duration: duration,
		Err:      err,
	}
}
