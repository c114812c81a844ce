package cache

import (
	"testing"
	"time"

	"zackhub/api/internal/store"
)

func TestThreadCacheExpiresEntries(t *testing.T) {
	c, err := NewThreadCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewThreadCache() error = %v", err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("movie-1", []store.Comment{{ID: "a"}})
	if got, ok := c.Get("movie-1"); !ok || len(got) != 1 {
		t.Fatalf("Get() = %v, %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("movie-1"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry must be evicted, Len() = %d", c.Len())
	}
}

func TestThreadCacheReturnsCopies(t *testing.T) {
	c, _ := NewThreadCache(10, time.Minute)
	original := []store.Comment{{ID: "a", Body: "first"}}
	c.Set("movie-1", original)
	original[0].Body = "mutated"

	got, _ := c.Get("movie-1")
	got[0].Body = "changed by reader"

	again, _ := c.Get("movie-1")
	if again[0].Body != "first" {
		t.Fatalf("cache content leaked mutation: %q", again[0].Body)
	}
}

func TestThreadCacheInvalidateAndEvict(t *testing.T) {
	c, _ := NewThreadCache(2, time.Minute)
	c.Set("a", nil)
	c.Set("b", nil)
	c.Set("c", nil)
	if _, ok := c.Get("a"); ok {
		t.Fatal("least recently used entry must be evicted")
	}
	c.Invalidate("b", "missing")
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected invalidated entry to be gone")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to remain")
	}
}

func TestThreadCacheDisabled(t *testing.T) {
	var nilCache *ThreadCache
	nilCache.Set("a", nil)
	if _, ok := nilCache.Get("a"); ok {
		t.Fatal("nil cache must miss")
	}

	zeroTTL, _ := NewThreadCache(10, 0)
	zeroTTL.Set("a", []store.Comment{{ID: "x"}})
	if _, ok := zeroTTL.Get("a"); ok {
		t.Fatal("zero TTL disables caching")
	}
}

func TestThreadCacheSkipsFillAfterInvalidate(t *testing.T) {
	c, _ := NewThreadCache(10, time.Minute)

	gen := c.Generation("movie-1")
	c.Invalidate("movie-1")
	c.SetIfCurrent("movie-1", gen, []store.Comment{{ID: "stale"}})
	if _, ok := c.Get("movie-1"); ok {
		t.Fatal("a list read before Invalidate must not be cached")
	}

	gen = c.Generation("movie-1")
	c.SetIfCurrent("movie-1", gen, []store.Comment{{ID: "fresh"}})
	if got, ok := c.Get("movie-1"); !ok || got[0].ID != "fresh" {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
}
