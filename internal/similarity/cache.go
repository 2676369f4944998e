package similarity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"harvester/internal/model"
)

// Cache limits.
const (
	CacheMaxEntries  = 10000
	CacheKeepEntries = 5000
	DefaultWindow    = 7 * 24 * time.Hour
)

// Entry is a recently accepted item kept for near-duplicate checks.
type Entry struct {
	SimHash string
	FeedID  int64
	Title   string
}

// Cache is the in-process, mutex-guarded list of recent entries.
type Cache struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Add appends an entry and trims the cache once it grows past CacheMaxEntries.
func (c *Cache) Add(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	c.trimLocked()
}

// Trim drops all but the most recent CacheKeepEntries entries when the cache exceeds CacheMaxEntries.
// It returns the number of removed entries.
func (c *Cache) Trim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimLocked()
}

func (c *Cache) trimLocked() int {
	if len(c.entries) <= CacheMaxEntries {
		return 0
	}
	removed := len(c.entries) - CacheKeepEntries
	kept := make([]Entry, CacheKeepEntries)
	copy(kept, c.entries[removed:])
	c.entries = kept
	return removed
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Find returns the first cached entry within threshold of hash that satisfies keep.
func (c *Cache) Find(hash string, threshold int, keep func(Entry) bool) (Entry, bool) {
	if hash == "" || hash == ZeroHash {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if keep != nil && !keep(e) {
			continue
		}
		if IsNearDuplicate(hash, []string{e.SimHash}, threshold) {
			return e, true
		}
	}
	return Entry{}, false
}

// WindowLookup returns SimHashes of items from other feeds processed since a point in time.
type WindowLookup interface {
	RecentSimHashes(ctx context.Context, since time.Time, excludeFeedID int64) ([]string, error)
}

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Duplicate bool
	Reason    string
	Match     string
}

// Engine combines the in-process cache with the persisted recent window.
// The cross-source check is best effort: two cycles inserting near-duplicates
// from different feeds at the same time can both pass.
type Engine struct {
	cache  *Cache
	window WindowLookup
	span   time.Duration
	now    func() time.Time
}

// NewEngine creates an Engine; window may be nil to disable the persisted lookup.
func NewEngine(cache *Cache, window WindowLookup) *Engine {
	if cache == nil {
		cache = NewCache()
	}
	return &Engine{
		cache:  cache,
		window: window,
		span:   DefaultWindow,
		now:    time.Now,
	}
}

// Cache returns the engine's in-process cache.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Check reports whether hash is a near duplicate of a recent item.
// Same-feed entries are always consulted; other feeds only when crossSource is set.
func (e *Engine) Check(ctx context.Context, feedID int64, hash string, threshold int, crossSource bool) (Verdict, error) {
	if hash == "" || hash == ZeroHash {
		return Verdict{}, nil
	}

	if m, ok := e.cache.Find(hash, threshold, func(en Entry) bool { return en.FeedID == feedID }); ok {
		return Verdict{Duplicate: true, Reason: model.SkipDuplicateNear, Match: m.Title}, nil
	}
	if !crossSource {
		return Verdict{}, nil
	}

	if m, ok := e.cache.Find(hash, threshold, func(en Entry) bool { return en.FeedID != feedID }); ok {
		return Verdict{Duplicate: true, Reason: model.SkipDuplicateCross, Match: m.Title}, nil
	}

	if e.window == nil {
		return Verdict{}, nil
	}
	known, err := e.window.RecentSimHashes(ctx, e.now().Add(-e.span), feedID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load recent window: %w", err)
	}
	if IsNearDuplicate(hash, known, threshold) {
		return Verdict{Duplicate: true, Reason: model.SkipDuplicateCross}, nil
	}
	return Verdict{}, nil
}

// Remember records an accepted item in the cache.
func (e *Engine) Remember(feedID int64, hash, title string) {
	if hash == "" || hash == ZeroHash {
		return
	}
	e.cache.Add(Entry{SimHash: hash, FeedID: feedID, Title: title})
}
