// Package ratelimit paces candidate fetches with a token bucket per site.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

const defaultMaxHosts = 4096

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MaxHosts bounds the number of tracked sites; the least recently used
	// bucket is dropped when the bound is exceeded.
	MaxHosts int
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter manages per-site rate limits. "www.example.com" and
// "example.com" share one bucket.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	defaultRate  rate.Limit
	defaultBurst int
	maxHosts     int
	now          func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		defaultRate:  r,
		defaultBurst: burst,
		maxHosts:     maxHosts,
		now:          time.Now,
	}
}

// Wait blocks until a token is available for the URL's site, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := siteKey(rawURL)
	limiter := l.limiterFor(site)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, d)
	}
	return nil
}

func (l *Limiter) limiterFor(site string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if b, ok := l.buckets[site]; ok {
		b.lastUsed = now
		return b.limiter
	}
	if len(l.buckets) >= l.maxHosts {
		l.evictOldestLocked()
	}
	b := &bucket{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst), lastUsed: now}
	l.buckets[site] = b
	return b.limiter
}

func (l *Limiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, b := range l.buckets {
		if oldestKey == "" || b.lastUsed.Before(oldest) {
			oldestKey, oldest = k, b.lastUsed
		}
	}
	delete(l.buckets, oldestKey)
}

// Len returns the number of tracked sites.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func siteKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
