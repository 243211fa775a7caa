package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neltoby/pokemon/internal/platform/cache"
	"github.com/neltoby/pokemon/internal/platform/observability"
	"github.com/neltoby/pokemon/internal/platform/resilience"
)

// fakePokeAPI is an in-process stand-in for PokeAPI and the sprite host.
type fakePokeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	hits   map[string]int
	status map[string][]int // per-path status script, consumed front to back
	delay  time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32

	names   map[string]int
	sprites map[string]bool // sprite paths that exist
}

func newFakePokeAPI(t *testing.T) *fakePokeAPI {
	f := &fakePokeAPI{
		t:      t,
		hits:   make(map[string]int),
		status: make(map[string][]int),
		names: map[string]int{
			"bulbasaur": 1,
			"pichu":     172,
			"pikachu":   25,
			"raichu":    26,
			"ditto":     132,
		},
		sprites: make(map[string]bool),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePokeAPI) baseURL() string   { return f.server.URL + "/api/v2" }
func (f *fakePokeAPI) spriteURL() string { return f.server.URL + "/sprites" }

func (f *fakePokeAPI) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// script makes the next len(codes) requests to path answer with codes.
func (f *fakePokeAPI) script(path string, codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[path] = append(f.status[path], codes...)
}

// addSprite registers sprite paths the fake serves.
func (f *fakePokeAPI) addSprite(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.sprites[p] = true
	}
}

func (f *fakePokeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakePokeAPI) countPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for path, c := range f.hits {
		if strings.HasPrefix(path, prefix) {
			n += c
		}
	}
	return n
}

func (f *fakePokeAPI) handle(w http.ResponseWriter, r *http.Request) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	path := r.URL.Path
	f.mu.Lock()
	f.hits[path]++
	delay := f.delay
	var code int
	if script := f.status[path]; len(script) > 0 {
		code = script[0]
		f.status[path] = script[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if code != 0 && code != http.StatusOK {
		w.WriteHeader(code)
		return
	}

	switch {
	case path == "/api/v2/pokemon":
		f.writeList(w, r)
	case strings.HasPrefix(path, "/api/v2/pokemon/"):
		f.writePokemon(w, strings.Trim(strings.TrimPrefix(path, "/api/v2/pokemon/"), "/"))
	case strings.HasPrefix(path, "/api/v2/pokemon-species/"):
		f.writeSpecies(w, strings.Trim(strings.TrimPrefix(path, "/api/v2/pokemon-species/"), "/"))
	case strings.HasPrefix(path, "/api/v2/evolution-chain/"):
		f.writeChain(w, strings.Trim(strings.TrimPrefix(path, "/api/v2/evolution-chain/"), "/"))
	case strings.HasPrefix(path, "/sprites/"):
		f.mu.Lock()
		ok := f.sprites[path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNG:" + path))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePokeAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("Failed to encode response: %v", err)
	}
}

func (f *fakePokeAPI) writeList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	results := make([]map[string]string, 0, limit)
	for id := offset + 1; id <= offset+limit && id <= 1025; id++ {
		results = append(results, map[string]string{
			"name": fmt.Sprintf("mon-%d", id),
			"url":  fmt.Sprintf("%s/pokemon/%d/", f.baseURL(), id),
		})
	}
	f.writeJSON(w, map[string]any{"count": 1025, "results": results})
}

func (f *fakePokeAPI) resolveID(ref string) (int, string, bool) {
	if id, err := strconv.Atoi(ref); err == nil {
		for name, known := range f.names {
			if known == id {
				return id, name, true
			}
		}
		return 0, "", false
	}
	id, ok := f.names[ref]
	return id, ref, ok
}

func (f *fakePokeAPI) writePokemon(w http.ResponseWriter, ref string) {
	id, name, ok := f.resolveID(ref)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	back := fmt.Sprintf("%s/back/%d.png", f.spriteURL(), id)
	front := fmt.Sprintf("%s/%d.png", f.spriteURL(), id)
	sprites := map[string]any{
		"back_default":  back,
		"front_default": front,
		"other": map[string]any{
			"official-artwork": map[string]any{"front_default": fmt.Sprintf("%s/other/official-artwork/%d.png", f.spriteURL(), id)},
		},
	}
	if name == "ditto" {
		sprites = map[string]any{"back_default": nil, "front_default": nil, "other": map[string]any{}}
	}

	f.writeJSON(w, map[string]any{
		"id":   id,
		"name": name,
		"abilities": []map[string]any{
			{"ability": map[string]string{"name": name + "-ability"}},
		},
		"types": []map[string]any{
			{"type": map[string]string{"name": "normal"}},
		},
		"species": map[string]string{
			"name": name,
			"url":  fmt.Sprintf("%s/pokemon-species/%d/", f.baseURL(), id),
		},
		"sprites": sprites,
	})
}

func (f *fakePokeAPI) writeSpecies(w http.ResponseWriter, ref string) {
	id, _ := strconv.Atoi(ref)
	switch id {
	case 132:
		// No evolution chain
		f.writeJSON(w, map[string]any{"evolution_chain": nil})
	case 1:
		f.writeJSON(w, map[string]any{"evolution_chain": map[string]string{"url": f.baseURL() + "/evolution-chain/1/"}})
	default:
		f.writeJSON(w, map[string]any{"evolution_chain": map[string]string{"url": f.baseURL() + "/evolution-chain/10/"}})
	}
}

func link(name string, children ...map[string]any) map[string]any {
	if children == nil {
		children = []map[string]any{}
	}
	return map[string]any{"species": map[string]string{"name": name}, "evolves_to": children}
}

func (f *fakePokeAPI) writeChain(w http.ResponseWriter, ref string) {
	switch ref {
	case "1":
		f.writeJSON(w, map[string]any{"chain": link("bulbasaur", link("ivysaur", link("venusaur")))})
	case "10":
		f.writeJSON(w, map[string]any{"chain": link("pichu", link("pikachu", link("raichu")))})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
}

func testLogger() *observability.Logger {
	return observability.NewNopLogger()
}

func newTestClient(f *fakePokeAPI, maxConcurrency int) *UpstreamClient {
	return NewUpstreamClient(UpstreamClientConfig{
		BaseURL:        f.baseURL(),
		Timeout:        2 * time.Second,
		RetryConfig:    fastRetry(),
		MaxConcurrency: maxConcurrency,
		HTTPClient:     f.server.Client(),
		Logger:         testLogger(),
	})
}

func newTestGateway(t *testing.T, f *fakePokeAPI, opts ...func(*GatewayConfig)) *Gateway {
	cfg := GatewayConfig{
		Upstream:      newTestClient(f, 10),
		Cache:         cache.NewMemoryCache(200),
		SpriteBaseURL: f.spriteURL(),
		Logger:        testLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g, err := NewGateway(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}
