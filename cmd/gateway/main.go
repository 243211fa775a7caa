package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/neltoby/pokemon/internal/catalog"
	"github.com/neltoby/pokemon/internal/httpapi"
	"github.com/neltoby/pokemon/internal/platform/cache"
	"github.com/neltoby/pokemon/internal/platform/config"
	"github.com/neltoby/pokemon/internal/platform/observability"
	"github.com/neltoby/pokemon/internal/platform/resilience"
)

const serviceName = "pokemon-catalog"

func main() {
	configPath := flag.String("config", os.Getenv("CATALOG_CONFIG"), "path to the config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	log.Println("Loading configuration...")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics(serviceName, cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, serviceName, observability.TracingConfig{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}

	logger.Info("observability setup complete")

	// Upstream client
	var breaker *resilience.CircuitBreaker
	if cfg.Upstream.CircuitBreaker.Enabled {
		breaker = catalog.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "pokeapi",
			FailureThreshold: cfg.Upstream.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.Upstream.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.Upstream.CircuitBreaker.Timeout,
		}, metrics)
	}

	upstream := catalog.NewUpstreamClient(catalog.UpstreamClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: cfg.Upstream.MaxAttempts,
			BaseDelay:   cfg.Upstream.Backoff.BaseDelay,
			MaxDelay:    cfg.Upstream.Backoff.MaxDelay,
			Multiplier:  cfg.Upstream.Backoff.Multiplier,
			Jitter:      cfg.Upstream.Backoff.Jitter,
		},
		MaxConcurrency: cfg.Upstream.MaxConcurrency,
		RateLimitRPM:   cfg.Upstream.RateLimit.RequestsPerMinute,
		RateLimitBurst: cfg.Upstream.RateLimit.Burst,
		CircuitBreaker: breaker,
		Logger:         logger,
		Metrics:        metrics,
	})

	// Gateway, warm-up starts in the background
	gateway, err := catalog.NewGateway(ctx, catalog.GatewayConfig{
		Upstream:        upstream,
		Cache:           cache.NewMemoryCache(cfg.Cache.MaxSize),
		Bound:           cfg.Catalog.Bound,
		DefaultPageSize: cfg.Catalog.DefaultPageSize,
		ListTTL:         cfg.Cache.ListTTL,
		DetailsTTL:      cfg.Cache.DetailsTTL,
		SpriteBaseURL:   cfg.Upstream.SpriteBaseURL,
		Warmup: catalog.WarmupConfig{
			Enabled: cfg.Catalog.Warmup.Enabled,
			Timeout: cfg.Catalog.Warmup.Timeout,
			Workers: cfg.Catalog.Warmup.Workers,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create gateway", err)
		log.Fatalf("Failed to create gateway: %v", err)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Gateway:          gateway,
			Logger:           logger,
			Metrics:          metrics,
			CacheMaxAge:      cfg.HTTP.CacheMaxAge,
			ImageCacheMaxAge: cfg.HTTP.ImageCacheMaxAge,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully stopping...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gateway close: %w", err))
		}
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.LogError(context.Background(), "application stopped with error", err)
		os.Exit(1)
	}
	logger.Info("application stopped")
}
