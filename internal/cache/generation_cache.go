package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Generated is one cached generative response body.
type Generated struct {
	Body      json.RawMessage
	ModelID   string
	StoredAt  time.Time
	ExpiresAt time.Time
}

type GenerationCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// GenerationCache remembers validated generator output keyed by a digest of
// task, prompt version and input, so the same document is not sent twice.
type GenerationCache struct {
	mu         sync.Mutex
	entries    map[string]Generated
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewGenerationCache(config GenerationCacheConfig) *GenerationCache {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 500
	}
	return &GenerationCache{
		entries:    make(map[string]Generated),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *GenerationCache) Get(key string) (Generated, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Generated{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return Generated{}, false
	}
	entry.Body = append(json.RawMessage(nil), entry.Body...)
	return entry, true
}

func (c *GenerationCache) Put(key string, body json.RawMessage, modelID string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = Generated{
		Body:      append(json.RawMessage(nil), body...),
		ModelID:   modelID,
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

func (c *GenerationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GenerationKey hashes the parts after trimming and lowercasing them.
func GenerationKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(part)))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}

func (c *GenerationCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.StoredAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.StoredAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
