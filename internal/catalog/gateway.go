package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neltoby/pokemon/internal/platform/cache"
	"github.com/neltoby/pokemon/internal/platform/inflight"
	"github.com/neltoby/pokemon/internal/platform/observability"
	"github.com/neltoby/pokemon/internal/platform/worker"
)

const (
	// DefaultBound is the number of catalog entries served (first generation)
	DefaultBound = 150
	// DefaultPageSize is the listing page size used by warm-up and the HTTP layer
	DefaultPageSize = 50
	// DefaultListTTL is how long a listing page stays cached
	DefaultListTTL = 5 * time.Minute
	// DefaultDetailsTTL is how long a details record stays cached
	DefaultDetailsTTL = 10 * time.Minute
	// DefaultSpriteBaseURL hosts the sprite images
	DefaultSpriteBaseURL = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon"
)

// Upstream is the transport the gateway reads the catalog through.
type Upstream interface {
	GetJSON(ctx context.Context, ref string, out any) error
	GetBytes(ctx context.Context, ref string) ([]byte, string, error)
	Health() UpstreamHealth
}

// WarmupConfig configures the startup cache warm-up
type WarmupConfig struct {
	Enabled bool
	Timeout time.Duration
	Workers int
}

// GatewayConfig holds gateway configuration
type GatewayConfig struct {
	Upstream        Upstream
	Cache           cache.Cache
	Bound           int
	DefaultPageSize int
	ListTTL         time.Duration
	DetailsTTL      time.Duration
	SpriteBaseURL   string
	Warmup          WarmupConfig
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

// Gateway serves catalog listings and details, caching each resource class
// with its own TTL and coalescing concurrent misses for the same key.
// Returned values are shared between callers and must not be modified.
type Gateway struct {
	upstream Upstream
	cache    cache.Cache
	lists    inflight.Group[[]Summary]
	details  inflight.Group[*Details]

	bound         int
	pageSize      int
	listTTL       time.Duration
	detailsTTL    time.Duration
	spriteBaseURL string
	warmupCfg     WarmupConfig

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	cancel     context.CancelFunc
	warmupDone <-chan *cache.WarmupResults
	closeOnce  sync.Once
}

// NewGateway creates the gateway. When warm-up is enabled it starts loading
// the bounded catalog in the background; construction never waits for it.
func NewGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("catalog: upstream is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache(cache.DefaultMaxSize)
	}
	if cfg.Bound <= 0 {
		cfg.Bound = DefaultBound
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = DefaultListTTL
	}
	if cfg.DetailsTTL <= 0 {
		cfg.DetailsTTL = DefaultDetailsTTL
	}
	if cfg.SpriteBaseURL == "" {
		cfg.SpriteBaseURL = DefaultSpriteBaseURL
	}
	if cfg.Warmup.Workers <= 0 {
		cfg.Warmup.Workers = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	g := &Gateway{
		upstream:      cfg.Upstream,
		cache:         cfg.Cache,
		bound:         cfg.Bound,
		pageSize:      cfg.DefaultPageSize,
		listTTL:       cfg.ListTTL,
		detailsTTL:    cfg.DetailsTTL,
		spriteBaseURL: strings.TrimRight(cfg.SpriteBaseURL, "/"),
		warmupCfg:     cfg.Warmup,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer("github.com/neltoby/pokemon/internal/catalog"),
		cancel:        cancel,
	}
	g.lists.OnSuccess = func(ctx context.Context, key string, items []Summary) {
		g.store(ctx, key, items, g.listTTL)
	}
	g.details.OnSuccess = func(ctx context.Context, key string, d *Details) {
		g.store(ctx, key, d, g.detailsTTL)
	}

	if cfg.Warmup.Enabled {
		warmer := cache.NewWarmer(g.logger, cache.WarmupConfig{
			Timeout:         cfg.Warmup.Timeout,
			ContinueOnError: true,
			Parallel:        true,
		})
		warmer.RegisterProvider(g)
		g.warmupDone = warmer.Start(ctx)
	}

	return g, nil
}

// Bound returns the number of catalog entries served
func (g *Gateway) Bound() int { return g.bound }

// PageSize returns the default listing page size
func (g *Gateway) PageSize() int { return g.pageSize }

// ListPage returns up to limit summaries starting at offset, never reaching
// past the catalog bound.
func (g *Gateway) ListPage(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit must be > 0 and offset >= 0 (got limit=%d offset=%d)",
			ErrInvalidArgument, limit, offset)
	}
	if offset >= g.bound {
		return []Summary{}, nil
	}

	effLimit := min(limit, g.bound-offset)
	key := listKey(effLimit, offset)

	ctx, span := g.tracer.Start(ctx, "catalog.ListPage", trace.WithAttributes(
		attribute.Int("limit", effLimit),
		attribute.Int("offset", offset),
	))
	items, err := cached(ctx, g, &g.lists, "list", key, func(ctx context.Context) ([]Summary, error) {
		return g.fetchList(ctx, effLimit, offset)
	})
	observability.EndSpanWithError(span, err)

	if err != nil {
		g.recordError(ctx, err)
		return nil, err
	}
	return items, nil
}

// Page wraps ListPage with continuation info.
func (g *Gateway) Page(ctx context.Context, limit, offset int) (*Page, error) {
	items, err := g.ListPage(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	if offset >= g.bound {
		return page, nil
	}

	effLimit := min(limit, g.bound-offset)
	total := offset + len(items)
	if total < g.bound && len(items) == effLimit {
		page.HasMore = true
		page.NextOffset = &total
	}
	return page, nil
}

func (g *Gateway) fetchList(ctx context.Context, limit, offset int) ([]Summary, error) {
	var resp listResponse
	ref := fmt.Sprintf("pokemon?limit=%d&offset=%d", limit, offset)
	if err := g.upstream.GetJSON(ctx, ref, &resp); err != nil {
		return nil, translate(err)
	}

	items := make([]Summary, 0, len(resp.Results))
	for _, r := range resp.Results {
		s := Summary{
			ID:   parseSummaryID(r.URL),
			Name: r.Name,
			URL:  r.URL,
		}
		if s.ID > 0 {
			s.ThumbURL = fmt.Sprintf("%s/%d.png", g.spriteBaseURL, s.ID)
		}
		items = append(items, s)
	}
	return items, nil
}

// Details returns the aggregated record for an id or name. The reference is
// used verbatim: "25" and "pikachu" are cached separately.
func (g *Gateway) Details(ctx context.Context, ref string) (*Details, error) {
	if err := validateRef(ref); err != nil {
		g.recordError(ctx, err)
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "catalog.Details", trace.WithAttributes(attribute.String("ref", ref)))
	details, err := cached(ctx, g, &g.details, "details", detailsKey(ref), func(ctx context.Context) (*Details, error) {
		return g.fetchDetails(ctx, ref)
	})
	observability.EndSpanWithError(span, err)

	if err != nil {
		g.recordError(ctx, err)
		return nil, err
	}
	return details, nil
}

// DetailsByID is Details for a numeric id
func (g *Gateway) DetailsByID(ctx context.Context, id int) (*Details, error) {
	if id <= 0 {
		err := fmt.Errorf("%w: id must be > 0 (got %d)", ErrInvalidArgument, id)
		g.recordError(ctx, err)
		return nil, err
	}
	return g.Details(ctx, strconv.Itoa(id))
}

func (g *Gateway) fetchDetails(ctx context.Context, ref string) (*Details, error) {
	var p pokemonResponse
	if err := g.upstream.GetJSON(ctx, "pokemon/"+url.PathEscape(ref), &p); err != nil {
		return nil, translate(err)
	}
	if p.Species.URL == "" {
		return nil, fmt.Errorf("%w: pokemon %q has no species link", ErrMalformedUpstream, ref)
	}

	var species speciesResponse
	if err := g.upstream.GetJSON(ctx, p.Species.URL, &species); err != nil {
		return nil, translate(err)
	}

	evolutions := []string{}
	if species.EvolutionChain != nil && species.EvolutionChain.URL != "" {
		var chain evolutionChainResponse
		if err := g.upstream.GetJSON(ctx, species.EvolutionChain.URL, &chain); err != nil {
			return nil, translate(err)
		}

		names, err := FlattenEvolution(chain.Chain)
		if err != nil {
			g.logger.LogWarn(ctx, "evolution chain truncated",
				"ref", ref,
				"chain_url", species.EvolutionChain.URL,
				"collected", len(names),
				"error", err,
			)
		}
		evolutions = names
	}

	d := &Details{
		ID:         p.ID,
		Name:       p.Name,
		Abilities:  make([]string, 0, len(p.Abilities)),
		Types:      make([]string, 0, len(p.Types)),
		Evolutions: evolutions,
		ImageURL:   nonEmpty(p.Sprites.BackDefault),
		ThumbURL:   nonEmpty(p.Sprites.FrontDefault),
	}
	for _, a := range p.Abilities {
		d.Abilities = append(d.Abilities, a.Ability.Name)
	}
	for _, t := range p.Types {
		d.Types = append(d.Types, t.Type.Name)
	}
	if artwork, ok := p.Sprites.Other["official-artwork"]; ok {
		d.ArtworkURL = nonEmpty(artwork.FrontDefault)
	}

	return d, nil
}

// Image resolves details for ref and returns the first sprite that loads,
// trying the back sprite from details first and then the known sprite paths.
func (g *Gateway) Image(ctx context.Context, ref string) (*Image, error) {
	details, err := g.Details(ctx, ref)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range g.imageCandidates(details) {
		data, contentType, err := g.upstream.GetBytes(ctx, candidate)
		if err == nil {
			if contentType == "" {
				contentType = "image/png"
				if strings.HasSuffix(candidate, ".svg") {
					contentType = "image/svg+xml"
				}
			}
			return &Image{Data: data, ContentType: contentType, Source: candidate}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		g.logger.LogDebug(ctx, "image candidate failed", "url", candidate, "error", err)
		lastErr = err
	}

	err = fmt.Errorf("%w: no image for %q", ErrNotFound, ref)
	if lastErr != nil {
		err = fmt.Errorf("%w: no image for %q (last error: %v)", ErrNotFound, ref, lastErr)
	}
	g.recordError(ctx, err)
	return nil, err
}

func (g *Gateway) imageCandidates(d *Details) []string {
	candidates := make([]string, 0, 6)
	if d.ImageURL != nil {
		candidates = append(candidates, *d.ImageURL)
	}
	if d.ID > 0 {
		candidates = append(candidates,
			fmt.Sprintf("%s/back/%d.png", g.spriteBaseURL, d.ID),
			fmt.Sprintf("%s/%d.png", g.spriteBaseURL, d.ID),
			fmt.Sprintf("%s/other/official-artwork/%d.png", g.spriteBaseURL, d.ID),
			fmt.Sprintf("%s/other/home/%d.png", g.spriteBaseURL, d.ID),
			fmt.Sprintf("%s/other/dream-world/%d.svg", g.spriteBaseURL, d.ID),
		)
	}
	return candidates
}

// Health returns the upstream health snapshot
func (g *Gateway) Health() UpstreamHealth {
	return g.upstream.Health()
}

// WarmupDone receives the warm-up results once, or is nil when warm-up is disabled.
func (g *Gateway) WarmupDone() <-chan *cache.WarmupResults {
	return g.warmupDone
}

// Name returns the provider name for warmup logging.
func (g *Gateway) Name() string {
	return "catalog"
}

// Warmup lists the bounded catalog page by page through a worker pool.
// This implements the cache.WarmupProvider interface.
func (g *Gateway) Warmup(ctx context.Context) error {
	var jobs []worker.Job[[]Summary]
	for offset := 0; offset < g.bound; offset += g.pageSize {
		jobs = append(jobs, worker.Job[[]Summary]{
			ID: listKey(min(g.pageSize, g.bound-offset), offset),
			Execute: func(ctx context.Context) ([]Summary, error) {
				return g.ListPage(ctx, g.pageSize, offset)
			},
		})
	}

	pool := worker.NewPool[[]Summary](ctx, g.warmupCfg.Workers, len(jobs))
	defer pool.Close()

	var errs []error
	for _, res := range pool.SubmitAndWait(jobs) {
		if g.metrics != nil {
			g.metrics.RecordWarmupPage(ctx, res.Err == nil)
		}
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.JobID, res.Err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d catalog pages failed: %w", len(errs), len(jobs), errors.Join(errs...))
	}

	g.logger.LogInfo(ctx, "catalog cache warmed", "pages", len(jobs))
	return nil
}

// Close stops any running warm-up and drops the cache.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.cancel()
		err = g.cache.Close()
	})
	return err
}

func (g *Gateway) recordError(ctx context.Context, err error) {
	if g.metrics != nil {
		g.metrics.RecordError(ctx, Code(err))
	}
}

// cached returns the value under key, fetching it through group on a miss.
// The group stores a successful fetch once its in-flight entry is gone, even
// when the caller that started it stopped waiting.
func cached[T any](ctx context.Context, g *Gateway, group *inflight.Group[T], class, key string, fetch func(context.Context) (T, error)) (T, error) {
	if v, err := g.cache.Get(ctx, key); err == nil {
		if typed, ok := v.(T); ok {
			if g.metrics != nil {
				g.metrics.RecordCacheRequest(ctx, class, true)
			}
			g.logger.LogDebug(ctx, "cache hit", "cache_key", key)
			return typed, nil
		}
	}
	if g.metrics != nil {
		g.metrics.RecordCacheRequest(ctx, class, false)
	}

	v, leader, err := group.Do(ctx, key, fetch)
	if err != nil {
		return v, err
	}
	if !leader && g.metrics != nil {
		g.metrics.RecordDedupShared(ctx, class)
	}
	return v, nil
}

func (g *Gateway) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := g.cache.Set(ctx, key, value, ttl); err != nil {
		g.logger.LogWarn(ctx, "failed to cache value", "cache_key", key, "error", err)
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
