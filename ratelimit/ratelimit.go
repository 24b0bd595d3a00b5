// Package ratelimit implements the per-caller fixed window limiter.
//
// A window starts at the first request for a key and lasts Window. The first
// request that arrives after the window has ended starts a new one, so window
// boundaries follow traffic rather than a wall-clock grid.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultLimit   = 60
	DefaultWindow  = time.Minute
	DefaultMaxKeys = 10000

	// UnknownKey pools every caller whose identity has no subject id.
	UnknownKey = "unknown"
)

// Config configures a Limiter
type Config struct {
	Limit  int
	Window time.Duration

	// MaxKeys bounds the number of tracked callers. The least recently seen
	// caller is forgotten first, which resets its window.
	MaxKeys int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type record struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed window request counter keyed by caller.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	records *simplelru.LRU[string, *record]
}

// New creates a Limiter. Zero values in cfg take the package defaults.
func New(cfg Config) (*Limiter, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	records, err := simplelru.NewLRU[string, *record](cfg.MaxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}

	return &Limiter{
		limit:   cfg.Limit,
		window:  cfg.Window,
		now:     cfg.Now,
		records: records,
	}, nil
}

// Key returns the limiter key for a caller subject id.
func Key(subject string) string {
	if subject == "" {
		return UnknownKey
	}
	return subject
}

// Allow counts one request for key. A rejected request does not increment the
// counter. The check and the increment happen under one lock, so concurrent
// callers on the same key cannot both pass the last slot.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records.Get(key)
	if !ok {
		rec = &record{resetAt: now.Add(l.window)}
		l.records.Add(key, rec)
	}

	if now.After(rec.resetAt) {
		rec.count = 0
		rec.resetAt = now.Add(l.window)
	}

	if rec.count >= l.limit {
		return Decision{Allowed: false, Count: rec.count, Remaining: 0, ResetAt: rec.resetAt}
	}

	rec.count++
	return Decision{
		Allowed:   true,
		Count:     rec.count,
		Remaining: l.limit - rec.count,
		ResetAt:   rec.resetAt,
	}
}

// Limit returns the per-window request limit.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Tracked returns the number of callers currently held in memory.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.Len()
}
