// Package ratelimit implements a per-host token bucket that paces requests
// before they reach the transport.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive rate means no limit.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerDomainRPS overrides the default rate for specific hosts.
	PerDomainRPS map[string]float64
}

// Limiter manages per-domain rate limits and doubles as the "ratelimit"
// middleware.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]rate.Limit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.PerDomainRPS))
	for host, rps := range cfg.PerDomainRPS {
		overrides[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		overrides:    overrides,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Name implements crawler.Middleware.
func (*Limiter) Name() string { return "ratelimit" }

// ProcessRequest implements crawler.RequestHook by waiting for a token.
func (l *Limiter) ProcessRequest(ctx context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	if err := l.Wait(ctx, req.Host()); err != nil {
		return crawler.Step[*crawler.Request]{}, err
	}
	return crawler.Proceed(req), nil
}

// Wait blocks until a token is available for the given host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if host == "" {
		host = "unknown"
	}
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available cost effectively nothing.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		r := l.defaultRate
		if override, ok := l.overrides[host]; ok {
			r = override
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}
