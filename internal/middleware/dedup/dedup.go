// Package dedup drops requests whose method, normalized URL and body were
// already seen during the run.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Config tunes the filter.
type Config struct {
	// ExpectedURLs sizes the bloom filter.
	ExpectedURLs uint
	// FalsePositiveRate is the target bloom error rate.
	FalsePositiveRate float64
	// Exact confirms bloom hits against a set of seen keys so no unseen URL is
	// ever dropped. Without it the filter trades accuracy for memory.
	Exact bool
}

// DefaultConfig returns a filter sized for a mid-sized site crawl.
func DefaultConfig() Config {
	return Config{
		ExpectedURLs:      100_000,
		FalsePositiveRate: 0.001,
		Exact:             true,
	}
}

// Filter is the dedup middleware.
type Filter struct {
	mu     sync.Mutex
	bloom  *bloom.BloomFilter
	seen   map[string]struct{}
	logger *zap.Logger
}

// New builds a Filter.
func New(cfg Config, logger *zap.Logger) *Filter {
	def := DefaultConfig()
	if cfg.ExpectedURLs == 0 {
		cfg.ExpectedURLs = def.ExpectedURLs
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = def.FalsePositiveRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{
		bloom:  bloom.NewWithEstimates(cfg.ExpectedURLs, cfg.FalsePositiveRate),
		logger: logger,
	}
	if cfg.Exact {
		f.seen = make(map[string]struct{})
	}
	return f
}

// Name implements crawler.Middleware.
func (*Filter) Name() string { return "dedup" }

// ProcessRequest implements crawler.RequestHook. Requests marked with
// crawler.MetaDontFilter are recorded but never dropped.
func (f *Filter) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	normalized, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		return crawler.Step[*crawler.Request]{}, err
	}
	key := requestKey(req.Method, normalized, req.Body)
	if f.seenBefore(key) && !req.DontFilter() {
		f.logger.Debug("Dropping duplicate request", zap.String("url", req.URL))
		return crawler.Drop[*crawler.Request]("duplicate " + normalized), nil
	}
	return crawler.Proceed(req), nil
}

// requestKey identifies a request by method and normalized URL. A request
// body is folded in as a SHA-256 digest so distinct POSTs to one endpoint
// stay distinct.
func requestKey(method, normalized string, body []byte) string {
	key := strings.ToUpper(method) + " " + normalized
	if len(body) == 0 {
		return key
	}
	sum := sha256.Sum256(body)
	return key + " " + hex.EncodeToString(sum[:])
}

// seenBefore records key and reports whether it had been recorded already.
func (f *Filter) seenBefore(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := []byte(key)
	if !f.bloom.Test(data) {
		f.bloom.Add(data)
		if f.seen != nil {
			f.seen[key] = struct{}{}
		}
		return false
	}
	if f.seen == nil {
		return true
	}
	if _, ok := f.seen[key]; ok {
		return true
	}
	f.seen[key] = struct{}{}
	return false
}
