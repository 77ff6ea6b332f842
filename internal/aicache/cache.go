// Package aicache is a content-addressed memo of prior AI backend responses.
// Identical file content re-analyzed under the same stage is never re-sent
// to the backend within the TTL.
package aicache

import (
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type entry struct {
	payload   []byte // zstd-compressed response
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache. Expiry is lazy on read; a background
// sweep also purges expired entries opportunistically. Analysis payloads are
// large, so stored responses are zstd-compressed.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	done      chan struct{}
	closeOnce sync.Once

	hits   int64
	misses int64
}

// Options configures a Cache.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration // 0 disables the background sweep
	MaxEntries    int           // defensive cap, 0 means default
}

const defaultMaxEntries = 4096

// New creates a cache and starts its sweep goroutine if configured.
func New(opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	c := &Cache{
		entries:    make(map[string]entry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		encoder:    encoder,
		decoder:    decoder,
		done:       make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go c.sweepLoop(opts.SweepInterval)
	}

	return c, nil
}

// Get returns the cached response for a fingerprint, if present and fresh.
func (c *Cache) Get(fingerprint string) (string, bool) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if ok && time.Now().After(e.expiresAt) {
		delete(c.entries, fingerprint)
		ok = false
	}
	if !ok {
		c.misses++
		c.mu.Unlock()
		return "", false
	}
	c.hits++
	c.mu.Unlock()

	decoded, err := c.decoder.DecodeAll(e.payload, nil)
	if err != nil {
		// Corrupt entry; treat as a miss and drop it.
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return "", false
	}
	return string(decoded), true
}

// Put stores a response under the fingerprint with the cache's TTL.
func (c *Cache) Put(fingerprint, response string) {
	payload := c.encoder.EncodeAll([]byte(response), nil)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.purgeExpiredLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}

	c.entries[fingerprint] = entry{
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Close stops the sweep goroutine and releases compressor resources.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.encoder.Close()
		c.decoder.Close()
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.purgeExpiredLocked(time.Now())
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) purgeExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
