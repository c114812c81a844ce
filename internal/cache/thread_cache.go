// Package cache holds recently read comment lists per subject.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"zackhub/api/internal/store"
)

type entry struct {
	comments  []store.Comment
	expiresAt time.Time
}

// generationStripes bounds the invalidation counters; subjects sharing a
// stripe only cost each other a skipped fill.
const generationStripes = 256

// ThreadCache is a size-bounded LRU of subject comment lists whose entries
// also expire after a TTL. Vote totals are not cached.
type ThreadCache struct {
	entries *lru.Cache[string, entry]
	ttl     time.Duration
	now     func() time.Time

	// fillMu orders a generation check and its Add against Invalidate.
	fillMu      sync.Mutex
	generations [generationStripes]atomic.Uint64
}

func NewThreadCache(size int, ttl time.Duration) (*ThreadCache, error) {
	if size <= 0 {
		size = 500
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create thread cache: %w", err)
	}
	return &ThreadCache{entries: l, ttl: ttl, now: time.Now}, nil
}

// Get returns a copy of the cached list for subjectID.
func (c *ThreadCache) Get(subjectID string) ([]store.Comment, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.entries.Get(subjectID)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.entries.Remove(subjectID)
		return nil, false
	}
	return append([]store.Comment(nil), e.comments...), true
}

func (c *ThreadCache) Set(subjectID string, comments []store.Comment) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.entries.Add(subjectID, entry{
		comments:  append([]store.Comment(nil), comments...),
		expiresAt: c.now().Add(c.ttl),
	})
}

// Generation returns a token to pass to SetIfCurrent after reading the
// store for subjectID.
func (c *ThreadCache) Generation(subjectID string) uint64 {
	if c == nil {
		return 0
	}
	return c.stripe(subjectID).Load()
}

// SetIfCurrent stores comments only if subjectID was not invalidated since
// gen was taken, so a slow read cannot hide a newer write.
func (c *ThreadCache) SetIfCurrent(subjectID string, gen uint64, comments []store.Comment) {
	if c == nil {
		return
	}
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	if c.stripe(subjectID).Load() != gen {
		return
	}
	c.Set(subjectID, comments)
}

func (c *ThreadCache) Invalidate(subjectIDs ...string) {
	if c == nil {
		return
	}
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	for _, id := range subjectIDs {
		c.stripe(id).Add(1)
		c.entries.Remove(id)
	}
}

func (c *ThreadCache) stripe(subjectID string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subjectID))
	return &c.generations[h.Sum32()%generationStripes]
}

func (c *ThreadCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
