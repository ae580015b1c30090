package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/autostream/leadflow/internal/models"
)

type cachedIntent struct {
	intent   models.Intent
	cachedAt time.Time
}

// IntentCache provides TTL-based caching for classification results
type IntentCache struct {
	cache map[string]cachedIntent
	mu    sync.RWMutex
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewIntentCache creates a cache with the given TTL and starts its cleanup loop.
// Call Close to stop the loop.
func NewIntentCache(ttl time.Duration) *IntentCache {
	c := &IntentCache{
		cache: make(map[string]cachedIntent),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns a cached intent if it has not expired
func (c *IntentCache) Get(message string) (models.Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.cache[normalizeMessage(message)]; ok {
		if time.Since(entry.cachedAt) < c.ttl {
			return entry.intent, true
		}
	}
	return models.IntentNone, false
}

// Set stores a classification result
func (c *IntentCache) Set(message string, intent models.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[normalizeMessage(message)] = cachedIntent{
		intent:   intent,
		cachedAt: time.Now(),
	}
}

// Len returns the number of entries, expired or not
func (c *IntentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close stops the cleanup loop and waits for it to exit
func (c *IntentCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// cleanup removes expired entries periodically
func (c *IntentCache) cleanup() {
	defer close(c.done)

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *IntentCache) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.cache {
		if now.Sub(entry.cachedAt) >= c.ttl {
			delete(c.cache, key)
		}
	}
}

// normalizeMessage creates a cache key from a message
func normalizeMessage(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}
