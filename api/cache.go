package api

import (
	"container/list"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// MaxCacheEntries bounds the response cache.
const MaxCacheEntries = 100

type cacheEntry struct {
	key       string
	data      []byte
	timestamp time.Time
}

// ResponseCache memoises raw response bodies by key. Eviction is FIFO by
// insertion order, not LRU: reads never reorder entries and re-setting an
// existing key keeps its original slot. Staleness is evaluated at read time
// only; expired entries stay until evicted, overwritten or invalidated.
type ResponseCache struct {
	mu      sync.Mutex
	max     int
	now     func() time.Time
	order   *list.List // of *cacheEntry, oldest first
	entries map[string]*list.Element
}

// NewResponseCache returns a cache holding at most max entries.
func NewResponseCache(max int, now func() time.Time) *ResponseCache {
	if max <= 0 {
		max = MaxCacheEntries
	}
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		max:     max,
		now:     now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the cached payload for key if it is younger than ttl.
func (c *ResponseCache) Get(key string, ttl time.Duration) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.timestamp) >= ttl {
		return nil, false
	}
	return entry.data, true
}

// Set stores data under key and evicts the oldest-inserted entry when the
// cache grows past its bound.
func (c *ResponseCache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.data = data
		entry.timestamp = c.now()
		return
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, data: data, timestamp: c.now()})
	if c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Invalidate removes every entry whose key starts with prefix. An empty
// prefix clears the cache.
func (c *ResponseCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.order.Init()
		c.entries = make(map[string]*list.Element)
		return
	}
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if entry := el.Value.(*cacheEntry); strings.HasPrefix(entry.key, prefix) {
			c.order.Remove(el)
			delete(c.entries, entry.key)
		}
		el = next
	}
}

// Len reports the number of entries, fresh or stale.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the cached keys, oldest first.
func (c *ResponseCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*cacheEntry).key)
	}
	return keys
}

// CacheKey builds the key for path and params. Params are serialised as JSON;
// encoding/json sorts map keys, so logically equal maps give equal keys.
func CacheKey(path string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return path, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return path + string(data), nil
}
