package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxSize is used when a non-positive capacity is requested.
const DefaultMaxSize = 200

// entry is an immutable cache record. Replacing a key installs a new entry.
type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// MemoryCache is an in-process LRU cache with per-entry expiry.
// Expired entries are dropped lazily when read; there is no background sweeper.
type MemoryCache struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	now     func() time.Time
	mu      sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
}

// MemoryOption customizes a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int, opts ...MemoryOption) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
// Missing and expired keys yield ErrNotFound; expired keys are removed.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, ErrNotFound
	}

	e := element.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(element)
		c.misses++
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(element)
	c.hits++
	return e.value, nil
}

// Set stores value under key until now+ttl. A non-positive ttl removes the key instead.
// When the cache grows past capacity the least recently used entry is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if element, ok := c.items[key]; ok {
			c.remove(element)
		}
		return nil
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}

	if element, ok := c.items[key]; ok {
		element.Value = e
		c.lru.MoveToFront(element)
		return nil
	}

	c.items[key] = c.lru.PushFront(e)

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest)
			c.evictions++
		}
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.remove(element)
	}
	return nil
}

// Close drops every entry.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	return nil
}

// Len returns the number of resident entries, including expired ones not yet read.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// remove unlinks an element (caller must hold lock)
func (c *MemoryCache) remove(element *list.Element) {
	e := element.Value.(*entry)
	c.lru.Remove(element)
	delete(c.items, e.key)
}
