// Package httpapi exposes the catalog gateway over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/neltoby/pokemon/internal/platform/observability"
)

// RouterConfig holds router dependencies
type RouterConfig struct {
	Gateway Gateway
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// CacheMaxAge is advertised on listing and details responses
	CacheMaxAge time.Duration
	// ImageCacheMaxAge is advertised on image responses
	ImageCacheMaxAge time.Duration
}

// NewRouter builds the HTTP handler for the catalog API.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 5 * time.Minute
	}
	if cfg.ImageCacheMaxAge <= 0 {
		cfg.ImageCacheMaxAge = time.Hour
	}

	h := &handler{
		gateway:          cfg.Gateway,
		logger:           cfg.Logger,
		cacheMaxAge:      cfg.CacheMaxAge,
		imageCacheMaxAge: cfg.ImageCacheMaxAge,
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(recovery(cfg.Logger))
	router.Use(accessLog(cfg.Logger))

	router.Get("/health", h.health)
	router.Get("/ready", h.ready)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	router.Route("/api/pokemon", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{idOrName}", h.details)
		r.Get("/{idOrName}/image", h.image)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})

	return otelhttp.NewHandler(router, "catalog-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// recovery turns a handler panic into a 500 JSON response.
func recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.LogError(r.Context(), "panic recovered", nil,
					"panic", rvr,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// accessLog logs one line per request, at warn for 4xx and error for 5xx.
func accessLog(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []any{
				"component", "http",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, "query", r.URL.RawQuery)
			}

			switch {
			case ww.Status() >= http.StatusInternalServerError:
				logger.WithTrace(r.Context()).Error("request completed", fields...)
			case ww.Status() >= http.StatusBadRequest:
				logger.LogWarn(r.Context(), "request completed", fields...)
			default:
				logger.LogInfo(r.Context(), "request completed", fields...)
			}
		})
	}
}
