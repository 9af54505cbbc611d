// Package robots drops requests that the target host's robots.txt disallows.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/metrics"
)

const maxRobotsBytes = 1 << 20

// Config controls robots.txt lookups.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Enforcer is the "robots" middleware. robots.txt is fetched once per
// scheme and host and cached for the life of the run.
type Enforcer struct {
	client    *http.Client
	cache     sync.Map
	group     singleflight.Group
	userAgent string
	logger    *zap.Logger
}

// New builds an Enforcer. A nil client gets a dedicated one with cfg.Timeout.
// The client's transport is wrapped so transient TLS failures fall back to
// allow-all after a few retries.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var base http.RoundTripper = http.DefaultTransport
	if client != nil {
		if client.Timeout > 0 {
			timeout = client.Timeout
		}
		if client.Transport != nil {
			base = client.Transport
		}
	}
	return &Enforcer{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &retryingTransport{base: base, backoff: defaultBackoff},
		},
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Name implements crawler.Middleware.
func (*Enforcer) Name() string { return "robots" }

// ProcessRequest implements crawler.RequestHook.
func (r *Enforcer) ProcessRequest(ctx context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	if !r.Allowed(ctx, req.URL) {
		return crawler.Drop[*crawler.Request]("disallowed by robots.txt"), nil
	}
	return crawler.Proceed(req), nil
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Lookup failures allow access.
func (r *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		metrics.ObserveRobotsFailure()
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

func (r *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	v, err, _ := r.group.Do(hostKey, func() (any, error) {
		data, err := r.fetch(ctx, parsed)
		if err != nil {
			return nil, err
		}
		r.cache.Store(hostKey, data)
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load robots for %s: %w", hostKey, err)
	}
	data, ok := v.(*robotstxt.RobotsData)
	if !ok {
		return nil, fmt.Errorf("robots result type mismatch: %T", v)
	}
	return data, nil
}

func (r *Enforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
