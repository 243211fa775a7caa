package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	// Cache metrics
	CacheRequests metric.Int64Counter

	// Upstream metrics
	UpstreamCalls    metric.Int64Counter
	UpstreamDuration metric.Float64Histogram
	UpstreamRetries  metric.Int64Counter

	// Coalescing and admission metrics
	DedupShared     metric.Int64Counter
	LimiterInFlight metric.Int64UpDownCounter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Warm-up metrics
	WarmupPages metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter
}

// NewMetrics creates a Metrics instance. When disabled every instrument is a no-op.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName)}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		provider: provider,
		registry: registry,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"catalog.cache.requests",
		metric.WithDescription("Cache lookups by resource class and outcome (hit/miss)"),
	)
	if err != nil {
		return err
	}

	m.UpstreamCalls, err = m.meter.Int64Counter(
		"catalog.upstream.calls",
		metric.WithDescription("Logical upstream calls by endpoint and status"),
	)
	if err != nil {
		return err
	}

	m.UpstreamDuration, err = m.meter.Float64Histogram(
		"catalog.upstream.duration",
		metric.WithDescription("Upstream call duration in milliseconds, retries included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.UpstreamRetries, err = m.meter.Int64Counter(
		"catalog.upstream.retries",
		metric.WithDescription("Upstream attempts retried after a transient failure"),
	)
	if err != nil {
		return err
	}

	m.DedupShared, err = m.meter.Int64Counter(
		"catalog.dedup.shared",
		metric.WithDescription("Requests served by joining an in-flight upstream fetch"),
	)
	if err != nil {
		return err
	}

	m.LimiterInFlight, err = m.meter.Int64UpDownCounter(
		"catalog.limiter.in_flight",
		metric.WithDescription("Upstream calls currently holding a concurrency slot"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"catalog.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.WarmupPages, err = m.meter.Int64Counter(
		"catalog.warmup.pages",
		metric.WithDescription("Catalog pages loaded during cache warm-up"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"catalog.errors",
		metric.WithDescription("Errors surfaced to callers by condition code"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheRequest records a cache lookup for a resource class
func (m *Metrics) RecordCacheRequest(ctx context.Context, class string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("status", status),
	))
}

// RecordUpstreamCall records one logical upstream call
func (m *Metrics) RecordUpstreamCall(ctx context.Context, endpoint, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	)
	m.UpstreamCalls.Add(ctx, 1, attrs)
	m.UpstreamDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordUpstreamRetry records a retried attempt
func (m *Metrics) RecordUpstreamRetry(ctx context.Context, endpoint string) {
	m.UpstreamRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordDedupShared records a caller that joined an in-flight fetch
func (m *Metrics) RecordDedupShared(ctx context.Context, class string) {
	m.DedupShared.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// AddLimiterInFlight adjusts the in-flight gauge by delta
func (m *Metrics) AddLimiterInFlight(ctx context.Context, delta int64) {
	m.LimiterInFlight.Add(ctx, delta)
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordWarmupPage records the outcome of one warm-up page
func (m *Metrics) RecordWarmupPage(ctx context.Context, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.WarmupPages.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, code string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
