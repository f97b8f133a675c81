// Package cache provides a content-addressed, in-memory response cache
// with per-entry TTLs and LRU eviction under a fixed capacity.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of entries when no capacity is given.
const DefaultCapacity = 1000

type entry struct {
	key          string
	value        []byte
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	hits         int64
}

// Cache is a TTL + LRU memoization table for provider responses. All state
// is in-memory and rebuilt from zero on restart.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	capacity  int
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time
}

// New creates a Cache bounded to capacity entries. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		now:      time.Now,
	}
}

// Key computes the content fingerprint for a prompt and the parameters that
// affect its result. Structurally equal inputs always produce the same key.
func Key(prompt string, params map[string]any) string {
	payload := struct {
		Prompt string         `json:"prompt"`
		Params map[string]any `json:"params,omitempty"`
	}{Prompt: prompt, Params: params}

	// json.Marshal writes map keys in sorted order, so the digest is
	// deterministic for structurally equal params.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for key if present and not expired. An entry
// found past its expiry is removed and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	e.hits++
	e.lastAccessed = now
	c.hits++
	return e.value, true
}

// Set inserts or replaces the entry for key with the given TTL. Inserting
// beyond capacity first drops expired entries, then evicts the entry with
// the oldest lastAccessed timestamp. TTL never influences eviction order.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		// Expired entries are always evictable before LRU order applies.
		if c.removeExpired(now) == 0 {
			c.evictOldest()
		}
	}

	c.entries[key] = &entry{
		key:          key,
		value:        value,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
}

// GetOrSet returns the cached value for key, invoking factory on a miss and
// storing its result. A factory error propagates and leaves the cache
// unmodified for key. Concurrent first access to the same key may invoke
// factory more than once; the last write wins.
func (c *Cache) GetOrSet(key string, factory func() ([]byte, error), ttl time.Duration) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// InvalidatePattern removes every entry whose key contains substr and
// returns the number removed.
func (c *Cache) InvalidatePattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and resets the hit/miss/eviction counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Cleanup removes all currently-expired entries and returns the number
// removed. Intended to run on a periodic cadence independent of reads.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeExpired(c.now())
}

// EntryStat describes one of the most-hit entries for display.
type EntryStat struct {
	Key  string `json:"key"`
	Hits int64  `json:"hits"`
	Age  string `json:"age"`
}

// Stats reports cumulative cache performance counters.
type Stats struct {
	Size       int         `json:"size"`
	Hits       int64       `json:"hits"`
	Misses     int64       `json:"misses"`
	HitRate    float64     `json:"hit_rate"`
	Evictions  int64       `json:"evictions"`
	TopEntries []EntryStat `json:"top_entries"`
}

// Stats returns counters accumulated since construction or the last Clear.
// HitRate is a percentage rounded to two decimals, 0 when no accesses have
// occurred. TopEntries lists up to 10 entries by descending hit count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	top := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		top = append(top, e)
	}
	// Descending by hits; key order breaks ties deterministically.
	sort.Slice(top, func(i, j int) bool {
		if top[i].hits != top[j].hits {
			return top[i].hits > top[j].hits
		}
		return top[i].key < top[j].key
	})
	if len(top) > 10 {
		top = top[:10]
	}

	entries := make([]EntryStat, 0, len(top))
	for _, e := range top {
		entries = append(entries, EntryStat{
			Key:  truncateKey(e.key),
			Hits: e.hits,
			Age:  formatAge(now.Sub(e.createdAt)),
		})
	}

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}

	return Stats{
		Size:       len(c.entries),
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
		Evictions:  c.evictions,
		TopEntries: entries,
	}
}

// removeExpired must be called with c.mu held.
func (c *Cache) removeExpired(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// evictOldest drops the entry with the least lastAccessed. Must be called
// with c.mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.lastAccessed.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func truncateKey(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}

func formatAge(d time.Duration) string {
	m := int(math.Round(d.Minutes()))
	if m < 1 {
		return "<1m"
	}
	return strconv.Itoa(m) + "m"
}
