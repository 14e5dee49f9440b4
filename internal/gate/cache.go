package gate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"plangate/pkg/models"
)

// CacheTTL is how long a validation result is served from the cache.
const CacheTTL = 300 * time.Second

type cacheEntry struct {
	result    *models.ValidationResult
	createdAt time.Time
}

// Cache maps plan fingerprints to their most recent validation result.
// Expired entries are ignored by Get but only removed by Put, Sweep or Purge.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given TTL. now defaults to time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns a copy of the cached result for key if it is younger than the TTL.
func (c *Cache) Get(key string) (*models.ValidationResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.createdAt) >= c.ttl {
		return nil, false
	}
	return entry.result.Clone(), true
}

// Put stores a copy of result under key, replacing any previous entry.
func (c *Cache) Put(key string, result *models.ValidationResult) {
	entry := cacheEntry{result: result.Clone(), createdAt: c.now()}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Purge removes every entry and returns how many there were.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fingerprint returns a deterministic content hash of a plan. The plan is
// canonicalized as JSON, which fixes field order and sorts metadata keys, so
// plans that differ only in key ordering share a fingerprint. Absent and
// empty sections are equivalent.
func Fingerprint(plan *models.ExecutionPlan) string {
	if plan == nil {
		plan = &models.ExecutionPlan{}
	}
	data, err := json.Marshal(plan)
	if err != nil {
		// Metadata that cannot be encoded still needs a stable key.
		data = []byte(fmt.Sprintf("%#v", *plan))
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
