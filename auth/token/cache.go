package token

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/stephnangue/gristproxy/auth/userinfo"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 100_000
)

// Entry is a validated token's cached identity.
type Entry struct {
	Profile   *userinfo.Profile
	ExpiresAt time.Time
}

// CacheConfig configures a Cache
type CacheConfig struct {
	// MaxEntries bounds the number of cached tokens.
	MaxEntries int64
	// Now overrides the clock used for expiry checks, for tests.
	Now func() time.Time
}

// Metrics tracks cache effectiveness
type Metrics struct {
	Hits    atomic.Int64
	Misses  atomic.Int64
	Expired atomic.Int64
	Stored  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Hits    int64
	Misses  int64
	Expired int64
	Stored  int64
}

// Cache maps raw bearer tokens to validated identities. Entries carry their
// own absolute expiry and are evicted by ristretto once it has passed.
type Cache struct {
	store   *ristretto.Cache[string, *Entry]
	now     func() time.Time
	metrics Metrics
}

// NewCache creates a Cache
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
		// cost is counted in entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cache: %w", err)
	}

	return &Cache{store: store, now: cfg.Now}, nil
}

// Get returns the entry for bearer if one exists and has not expired.
func (c *Cache) Get(bearer string) (*Entry, bool) {
	entry, ok := c.store.Get(bearer)
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	if !entry.ExpiresAt.After(c.now()) {
		c.metrics.Expired.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	return entry, true
}

// Set stores entry for bearer, replacing any previous entry. An entry that is
// already expired is not stored, and removes the previous one.
func (c *Cache) Set(bearer string, entry *Entry) {
	ttl := entry.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		c.store.Del(bearer)
		return
	}
	c.store.SetWithTTL(bearer, entry, 1, ttl)
	// ristretto applies writes asynchronously
	c.store.Wait()
	c.metrics.Stored.Add(1)
}

// Metrics returns a snapshot of the cache counters
func (c *Cache) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:    c.metrics.Hits.Load(),
		Misses:  c.metrics.Misses.Load(),
		Expired: c.metrics.Expired.Load(),
		Stored:  c.metrics.Stored.Load(),
	}
}

// Close stops the cache's background goroutines
func (c *Cache) Close() {
	c.store.Close()
}
