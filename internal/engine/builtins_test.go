package engine

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/clock/system"
	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/middleware"
	"github.com/JakeFAU/crawlengine/internal/middleware/dedup"
	"github.com/JakeFAU/crawlengine/internal/middleware/render"
	"github.com/JakeFAU/crawlengine/internal/middleware/retry"
	"github.com/JakeFAU/crawlengine/internal/pipeline"
	"github.com/JakeFAU/crawlengine/internal/queue/memory"
	"github.com/JakeFAU/crawlengine/internal/registry"
	memsink "github.com/JakeFAU/crawlengine/internal/sink/memory"
)

const builtinsUserAgent = "crawlengine-test"

// robotsRoundTripper serves robots.txt for every host without touching the
// network.
type robotsRoundTripper struct{}

func (robotsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("User-agent: *\nDisallow: /private\n")),
		Request:    req,
	}, nil
}

// defaultStack resolves the configured default middleware list plus extra
// through the builtin registry, the way a run does.
func defaultStack(t *testing.T, queue crawler.Queue, extra ...string) *middleware.Stack {
	t.Helper()

	names := append(config.New().GetStringSlice("spider.middleware"), extra...)
	require.Contains(t, names, "dedup")

	settings := viper.New()
	settings.SetConfigType("yaml")
	require.NoError(t, settings.ReadConfig(strings.NewReader(`
middleware:
  ratelimit:
    rps: 1000
    burst: 10
  retry:
    base_delay: 1ms
    max_delay: 2ms
`)))
	mws, err := registry.NewDefault().Middleware(names, settings, registry.Deps{
		Queue:          queue,
		Clock:          system.New(),
		SpiderName:     "test",
		UserAgent:      builtinsUserAgent,
		AllowedDomains: []string{"example.com"},
		HTTPClient:     &http.Client{Transport: robotsRoundTripper{}},
	})
	require.NoError(t, err)
	return middleware.NewStack(mws...)
}

type attemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *attemptCounter) next(url string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = make(map[string]int)
	}
	a.counts[url]++
	return a.counts[url]
}

func (a *attemptCounter) get(url string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[url]
}

func TestRunRetriesPastDedup(t *testing.T) {
	t.Parallel()

	attempts := &attemptCounter{}
	transport := &fakeTransport{handle: func(req *crawler.Request) (*crawler.Response, error) {
		if attempts.next(req.URL) == 1 {
			return nil, errBoom
		}
		return okResponse(req), nil
	}}
	queue := memory.NewQueue(0)
	rm, err := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, queue, nil, nil)
	require.NoError(t, err)
	stack := middleware.NewStack(dedup.New(dedup.DefaultConfig(), nil), rm)

	sink := memsink.New()
	spider := &testSpider{
		seeds: mustRequests("https://example.com/flaky"),
		parse: func(_ context.Context, resp *crawler.Response) ([]crawler.ParseResult, error) {
			return []crawler.ParseResult{crawler.Yield(crawler.ItemFrom("url", resp.Request.URL))}, nil
		},
	}
	e := New(Config{}, queue, transport, stack, pipeline.New(nil, sink, nil), nil)

	require.NoError(t, e.Run(context.Background(), spider))
	require.Equal(t, 2, attempts.get("https://example.com/flaky"))
	require.Len(t, sink.Items(), 1)
	require.Zero(t, e.Stats().RequestsDropped)
}

func TestRunRetriesThroughDefaultMiddleware(t *testing.T) {
	t.Parallel()

	const flaky = "https://example.com/flaky"
	attempts := &attemptCounter{}
	var uaMu sync.Mutex
	var agents []string
	transport := &fakeTransport{handle: func(req *crawler.Request) (*crawler.Response, error) {
		uaMu.Lock()
		agents = append(agents, req.Header.Get("User-Agent"))
		uaMu.Unlock()
		if attempts.next(req.URL) == 1 && req.URL == flaky {
			return nil, errBoom
		}
		return okResponse(req), nil
	}}
	queue := memory.NewQueue(0)
	sink := memsink.New()
	spider := &testSpider{
		seeds: mustRequests(flaky, "https://example.com/ok"),
		parse: func(_ context.Context, resp *crawler.Response) ([]crawler.ParseResult, error) {
			out := []crawler.ParseResult{crawler.Yield(crawler.ItemFrom("url", resp.Request.URL))}
			if resp.Request.URL != "https://example.com/ok" {
				return out, nil
			}
			// A page linking back to the flaky URL must not defeat dedup,
			// and robots still applies to everything else.
			for _, href := range []string{"/flaky", "/private", "https://elsewhere.org/"} {
				next, err := resp.Follow(href)
				if err != nil {
					return nil, err
				}
				out = append(out, crawler.Follow(next))
			}
			return out, nil
		},
	}
	e := New(Config{}, queue, transport, defaultStack(t, queue, "retry"), pipeline.New(nil, sink, nil), nil)

	require.NoError(t, e.Run(context.Background(), spider))
	require.Equal(t, 2, attempts.get(flaky), "the retry clone passes dedup")
	require.Equal(t, 1, attempts.get("https://example.com/ok"))
	require.Zero(t, attempts.get("https://example.com/private"))
	require.Zero(t, attempts.get("https://elsewhere.org/"))
	require.Equal(t, []string{"https://example.com/ok", flaky}, itemURLs(sink.Items()))

	stats := e.Stats()
	require.EqualValues(t, 3, stats.RequestsDropped, "duplicate link, robots and offsite")
	require.EqualValues(t, 1, stats.Errors[crawler.ClassTransport])
	uaMu.Lock()
	defer uaMu.Unlock()
	for _, ua := range agents {
		require.Equal(t, builtinsUserAgent, ua)
	}
}

func TestRunPromotesAppShellsThroughDefaultMiddleware(t *testing.T) {
	t.Parallel()

	const (
		shell    = `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
		rendered = `<html><body><h1>Catalogue</h1><p>Rendered in a browser.</p></body></html>`
	)
	attempts := &attemptCounter{}
	transport := &fakeTransport{handle: func(req *crawler.Request) (*crawler.Response, error) {
		attempts.next(req.URL)
		resp := okResponse(req)
		resp.Body = []byte(shell)
		if render.Browser(req) || req.URL == "https://example.com/static" {
			resp.Body = []byte(rendered)
		}
		return resp, nil
	}}
	queue := memory.NewQueue(0)
	sink := memsink.New()
	spider := &testSpider{
		seeds: mustRequests("https://example.com/app", "https://example.com/static"),
		parse: func(_ context.Context, resp *crawler.Response) ([]crawler.ParseResult, error) {
			return []crawler.ParseResult{crawler.Yield(crawler.ItemFrom(
				"url", resp.Request.URL,
				"browser", render.Browser(resp.Request),
			))}, nil
		},
	}
	e := New(Config{}, queue, transport, defaultStack(t, queue, "render"), pipeline.New(nil, sink, nil), nil)

	require.NoError(t, e.Run(context.Background(), spider))
	require.Equal(t, 2, attempts.get("https://example.com/app"), "the browser copy passes dedup")
	require.Equal(t, 1, attempts.get("https://example.com/static"))

	items := sink.Items()
	require.Len(t, items, 2)
	byURL := map[string]bool{}
	for _, it := range items {
		v, _ := it.Get("browser")
		byURL[it.GetString("url")] = v.(bool)
	}
	require.Equal(t, map[string]bool{"https://example.com/app": true, "https://example.com/static": false}, byURL)
	require.EqualValues(t, 1, e.Stats().ResponsesDropped)
	require.Zero(t, e.Stats().RequestsDropped)
}
