package cache

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	url       string
	createdAt time.Time
	expiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// SignedURLCache keeps recently signed download URLs so that repeated
// job dispatches for the same files do not hammer the storage API. The
// TTL must stay below the signature expiry or callers get dead links.
type SignedURLCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

func NewSignedURLCache(config Config) *SignedURLCache {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &SignedURLCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func Key(bucket string, objectPath string) string {
	return bucket + "/" + objectPath
}

func (c *SignedURLCache) Get(key string) (string, bool) {
	c.mu.RLock()
	found, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return "", false
	}
	if time.Now().UTC().After(found.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return found.url, true
}

func (c *SignedURLCache) Set(key string, url string) {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry{
		url:       url,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *SignedURLCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	delete(c.entries, pairs[0].key)
}
