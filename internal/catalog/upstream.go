package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/neltoby/pokemon/internal/platform/observability"
	"github.com/neltoby/pokemon/internal/platform/resilience"
)

const (
	// DefaultBaseURL is the public PokeAPI v2 root
	DefaultBaseURL = "https://pokeapi.co/api/v2"

	// maxBodyBytes caps how much of an upstream body is read
	maxBodyBytes = 10 << 20
)

// UpstreamClient performs bounded, retried GETs against the catalog API.
type UpstreamClient struct {
	client      *http.Client
	baseURL     string
	timeout     time.Duration
	retryCfg    resilience.RetryConfig
	limiter     *resilience.ConcurrencyLimiter
	rateLimiter *resilience.RateLimiter
	cb          *resilience.CircuitBreaker
	logger      *observability.Logger
	metrics     *observability.Metrics

	healthMu sync.RWMutex
	health   UpstreamHealth
}

// UpstreamClientConfig holds upstream client configuration
type UpstreamClientConfig struct {
	BaseURL string
	// Timeout bounds each attempt, not the whole logical call
	Timeout        time.Duration
	RetryConfig    resilience.RetryConfig
	MaxConcurrency int
	RateLimitRPM   int
	RateLimitBurst int
	// CircuitBreaker is optional; nil disables it
	CircuitBreaker *resilience.CircuitBreaker
	HTTPClient     *http.Client
	Logger         *observability.Logger
	Metrics        *observability.Metrics
}

// NewUpstreamClient creates a new upstream client
func NewUpstreamClient(cfg UpstreamClientConfig) *UpstreamClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var limiterOpts []resilience.LimiterOption
	if cfg.Metrics != nil {
		metrics := cfg.Metrics
		limiterOpts = append(limiterOpts, resilience.WithOnChange(func(delta int64) {
			metrics.AddLimiterInFlight(context.Background(), delta)
		}))
	}

	return &UpstreamClient{
		client:      httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		retryCfg:    cfg.RetryConfig,
		limiter:     resilience.NewConcurrencyLimiter(cfg.MaxConcurrency, limiterOpts...),
		rateLimiter: resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		cb:          cfg.CircuitBreaker,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// NewCircuitBreaker builds a breaker that only counts transient upstream
// failures, reporting state changes to metrics.
func NewCircuitBreaker(cfg resilience.CircuitBreakerConfig, metrics *observability.Metrics) *resilience.CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "pokeapi"
	}
	cfg.IsFailure = isTransient
	cfg.OnStateChange = func(from, to resilience.State) {
		if metrics != nil {
			metrics.SetCircuitBreakerState(context.Background(), cfg.Name, int64(to))
		}
	}
	return resilience.NewCircuitBreaker(cfg)
}

type upstreamResponse struct {
	body        []byte
	contentType string
}

// GetJSON fetches ref and decodes the JSON body into out. ref is a path
// relative to the base URL or an absolute URL returned by the upstream.
func (c *UpstreamClient) GetJSON(ctx context.Context, ref string, out any) error {
	target := c.resolve(ref)
	resp, err := c.get(ctx, target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &DecodeError{URL: target, Err: err}
	}
	return nil
}

// GetBytes fetches ref and returns the raw body with its content type.
func (c *UpstreamClient) GetBytes(ctx context.Context, ref string) ([]byte, string, error) {
	resp, err := c.get(ctx, c.resolve(ref))
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.contentType, nil
}

// get runs one logical call: pace, take a concurrency slot for the whole call,
// pass the breaker, then retry transient failures.
func (c *UpstreamClient) get(ctx context.Context, target string) (*upstreamResponse, error) {
	endpoint := c.endpointLabel(target)
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	// The breaker and health track the catalog API only; sprite hosts fail independently
	cb := c.cb
	external := endpoint == "external"
	if external {
		cb = nil
	}

	resp, err := resilience.Run(ctx, c.limiter, func(ctx context.Context) (*upstreamResponse, error) {
		return resilience.ExecuteWithResult(cb, ctx, func(ctx context.Context) (*upstreamResponse, error) {
			retryCfg := c.retryCfg
			attempt := 1
			retryCfg.OnRetry = func(err error, next time.Duration) {
				c.logger.LogWarn(ctx, "retrying upstream request",
					"url", target,
					"attempt", attempt,
					"next_delay_ms", next.Milliseconds(),
					"error", err,
				)
				attempt++
				if c.metrics != nil {
					c.metrics.RecordUpstreamRetry(ctx, endpoint)
				}
			}

			return resilience.RetryIfWithResult(ctx, retryCfg, isTransient, func(ctx context.Context) (*upstreamResponse, error) {
				attemptStart := time.Now()
				resp, err := c.attempt(ctx, target)
				if !external {
					c.recordHealth(err, time.Since(attemptStart))
				}
				return resp, err
			})
		})
	})

	duration := time.Since(start)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordUpstreamCall(ctx, endpoint, status, duration)
	}
	if err != nil {
		c.logger.LogDebug(ctx, "upstream request failed", "url", target, "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	c.logger.LogDebug(ctx, "upstream request completed", "url", target, "duration_ms", duration.Milliseconds())
	return resp, nil
}

func (c *UpstreamClient) attempt(ctx context.Context, target string) (*upstreamResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "pokemon-catalog-gateway/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}

	return &upstreamResponse{
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *UpstreamClient) resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.baseURL + "/" + strings.TrimPrefix(ref, "/")
}

// endpointLabel names the resource class of target for metrics
func (c *UpstreamClient) endpointLabel(target string) string {
	rest, ok := strings.CutPrefix(target, c.baseURL+"/")
	if !ok {
		return "external"
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "root"
	}
	return rest
}

// Health returns the current health status of the upstream client.
func (c *UpstreamClient) Health() UpstreamHealth {
	c.healthMu.RLock()
	h := c.health
	c.healthMu.RUnlock()

	h.CircuitState = "disabled"
	if c.cb != nil {
		h.CircuitState = c.cb.State().String()
	}
	h.InFlight = c.limiter.InFlight()
	h.PeakInFlight = c.limiter.Peak()
	h.MaxConcurrency = c.limiter.Max()
	return h
}

func (c *UpstreamClient) recordHealth(err error, duration time.Duration) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastDuration = duration
	if err == nil {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
		c.health.ConsecutiveFailures = 0
		return
	}

	// A 4xx is an answer, not an outage
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
		c.health.LastSuccess = time.Now()
		c.health.ConsecutiveFailures = 0
		return
	}

	c.health.LastFailure = time.Now()
	c.health.LastError = err.Error()
	c.health.ConsecutiveFailures++
}
