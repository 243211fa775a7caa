package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_UPSTREAM_BASE_URL
const EnvPrefix = "CATALOG"

// Config holds all configuration for the catalog gateway
type Config struct {
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// UpstreamConfig holds catalog API connection settings
type UpstreamConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	SpriteBaseURL  string               `mapstructure:"sprite_base_url"`
	Timeout        time.Duration        `mapstructure:"timeout"` // per attempt
	MaxAttempts    int                  `mapstructure:"max_attempts"`
	Backoff        BackoffConfig        `mapstructure:"backoff"`
	MaxConcurrency int                  `mapstructure:"max_concurrency"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// BackoffConfig holds retry delay settings
type BackoffConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"` // 0 disables
	Burst             int `mapstructure:"burst"`
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	MaxSize    int           `mapstructure:"max_size"`
	ListTTL    time.Duration `mapstructure:"list_ttl"`
	DetailsTTL time.Duration `mapstructure:"details_ttl"`
}

// CatalogConfig holds listing bounds and warm-up settings
type CatalogConfig struct {
	Bound           int          `mapstructure:"bound"`
	DefaultPageSize int          `mapstructure:"default_page_size"`
	Warmup          WarmupConfig `mapstructure:"warmup"`
}

// WarmupConfig holds startup cache warm-up settings
type WarmupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age"`
	ImageCacheMaxAge time.Duration `mapstructure:"image_cache_max_age"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from file and environment variables.
// An empty configPath searches ./config/config.yaml and ./config.yaml; a
// missing search-path file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://pokeapi.co/api/v2")
	v.SetDefault("upstream.sprite_base_url", "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon")
	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.max_attempts", 3)
	v.SetDefault("upstream.backoff.base_delay", "300ms")
	v.SetDefault("upstream.backoff.max_delay", "5s")
	v.SetDefault("upstream.backoff.multiplier", 2.0)
	v.SetDefault("upstream.backoff.jitter", 0.2)
	v.SetDefault("upstream.max_concurrency", 10)
	v.SetDefault("upstream.rate_limit.requests_per_minute", 0)
	v.SetDefault("upstream.rate_limit.burst", 0)
	v.SetDefault("upstream.circuit_breaker.enabled", true)
	v.SetDefault("upstream.circuit_breaker.failure_threshold", 5)
	v.SetDefault("upstream.circuit_breaker.success_threshold", 2)
	v.SetDefault("upstream.circuit_breaker.timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.max_size", 200)
	v.SetDefault("cache.list_ttl", "5m")
	v.SetDefault("cache.details_ttl", "10m")

	// Catalog defaults
	v.SetDefault("catalog.bound", 150)
	v.SetDefault("catalog.default_page_size", 50)
	v.SetDefault("catalog.warmup.enabled", true)
	v.SetDefault("catalog.warmup.timeout", "60s")
	v.SetDefault("catalog.warmup.workers", 3)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.cache_max_age", "5m")
	v.SetDefault("http.image_cache_max_age", "1h")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Upstream validation
	if err := validateBaseURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("upstream.sprite_base_url", c.Upstream.SpriteBaseURL); err != nil {
		return err
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be > 0")
	}
	if c.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream max attempts must be >= 1")
	}
	if c.Upstream.MaxConcurrency < 1 {
		return fmt.Errorf("upstream max concurrency must be >= 1")
	}
	if c.Upstream.Backoff.Jitter < 0 || c.Upstream.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff jitter must be within [0, 1]")
	}
	if c.Upstream.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}

	// Cache validation
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache max size must be >= 1")
	}
	if c.Cache.ListTTL <= 0 || c.Cache.DetailsTTL <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}

	// Catalog validation
	if c.Catalog.Bound < 1 {
		return fmt.Errorf("catalog bound must be >= 1")
	}
	if c.Catalog.DefaultPageSize < 1 || c.Catalog.DefaultPageSize > c.Catalog.Bound {
		return fmt.Errorf("default page size must be within [1, %d]", c.Catalog.Bound)
	}

	// HTTP validation
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	if r := c.Observability.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1]")
	}

	return nil
}

func validateBaseURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL: %q", key, raw)
	}
	return nil
}
