package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestMemoryCache_GetAfterSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	if err := c.Set(ctx, "list:50:0", "page", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "list:50:0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "page" {
		t.Errorf("Expected %q, got %v", "page", val)
	}
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := NewMemoryCache(10)

	_, err := c.Get(context.Background(), "details:missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCache_ExpiredEntryRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCache(10, WithClock(clock.Now))

	_ = c.Set(ctx, "details:25", "pikachu", 10*time.Minute)

	clock.Advance(10*time.Minute - time.Second)
	if _, err := c.Get(ctx, "details:25"); err != nil {
		t.Fatalf("Expected entry before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := c.Get(ctx, "details:25"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound at expiry, got %v", err)
	}

	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be removed on read, size=%d", c.Len())
	}
}

func TestMemoryCache_ExpiredEntryStaysUntilRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCache(10, WithClock(clock.Now))

	_ = c.Set(ctx, "a", 1, time.Second)
	clock.Advance(time.Hour)

	if c.Len() != 1 {
		t.Errorf("Expected lazy expiry to keep entry resident, size=%d", c.Len())
	}
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(3)

	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Minute)
	}

	// One more distinct key evicts k0, the oldest.
	_ = c.Set(ctx, "k3", 3, time.Minute)

	if _, err := c.Get(ctx, "k0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected k0 to be evicted, got %v", err)
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, err := c.Get(ctx, key); err != nil {
			t.Errorf("Expected %s to survive, got %v", key, err)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Expected size 3, got %d", c.Len())
	}
}

func TestMemoryCache_GetProtectsFromEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(3)

	_ = c.Set(ctx, "k0", 0, time.Minute)
	_ = c.Set(ctx, "k1", 1, time.Minute)
	_ = c.Set(ctx, "k2", 2, time.Minute)

	// Touch k0 so k1 becomes least recently used.
	if _, err := c.Get(ctx, "k0"); err != nil {
		t.Fatalf("Get k0 failed: %v", err)
	}

	_ = c.Set(ctx, "k3", 3, time.Minute)

	if _, err := c.Get(ctx, "k0"); err != nil {
		t.Errorf("Expected k0 to be protected by access, got %v", err)
	}
	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected k1 to be evicted, got %v", err)
	}

	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestMemoryCache_ReplaceDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)

	_ = c.Set(ctx, "a", 1, time.Minute)
	_ = c.Set(ctx, "a", 2, time.Minute)
	_ = c.Set(ctx, "b", 3, time.Minute)

	if c.Len() != 2 {
		t.Fatalf("Expected size 2, got %d", c.Len())
	}

	val, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Expected a to be resident, got %v", err)
	}
	if val != 2 {
		t.Errorf("Expected replaced value 2, got %v", val)
	}
}

func TestMemoryCache_ReplaceRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCache(10, WithClock(clock.Now))

	_ = c.Set(ctx, "a", 1, time.Minute)
	clock.Advance(50 * time.Second)
	_ = c.Set(ctx, "a", 2, time.Minute)
	clock.Advance(50 * time.Second)

	val, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Expected replacement entry to carry a fresh expiry, got %v", err)
	}
	if val != 2 {
		t.Errorf("Expected 2, got %v", val)
	}
}

func TestMemoryCache_NonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	_ = c.Set(ctx, "a", 1, time.Minute)

	for _, ttl := range []time.Duration{0, -time.Second} {
		if err := c.Set(ctx, "a", 2, ttl); err != nil {
			t.Fatalf("Set with ttl %v failed: %v", ttl, err)
		}
		if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ttl %v to leave no entry, got %v", ttl, err)
		}
	}
}

func TestMemoryCache_DefaultSize(t *testing.T) {
	c := NewMemoryCache(0)
	if got := c.Stats().MaxSize; got != DefaultMaxSize {
		t.Errorf("Expected default max size %d, got %d", DefaultMaxSize, got)
	}
}

func TestMemoryCache_DeleteAndClose(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	_ = c.Set(ctx, "a", 1, time.Minute)
	_ = c.Set(ctx, "b", 2, time.Minute)

	_ = c.Delete(ctx, "a")
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a to be deleted, got %v", err)
	}

	_ = c.Close()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Close, got %d", c.Len())
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (id+j)%32)
				_ = c.Set(ctx, key, j, time.Minute)
				_, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if size := c.Len(); size > 16 {
		t.Errorf("Size %d exceeds capacity 16", size)
	}
}
