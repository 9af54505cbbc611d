// Package headless renders pages in headless Chrome for sites that build
// their content with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

const defaultNavTimeout = 45 * time.Second

// ErrMethodNotSupported is returned for anything but GET.
var ErrMethodNotSupported = errors.New("headless transport only supports GET")

// Config controls the behavior of the headless transport.
type Config struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"nav_timeout"`
	// Settle is how long to wait after the body is ready before snapshotting.
	Settle time.Duration `mapstructure:"settle"`
}

// Transport implements crawler.Transport using chromedp. Each request gets
// its own tab; MaxParallel bounds how many tabs are open at once.
type Transport struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless transport. The browser starts lazily on first use.
func New(cfg Config) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Transport{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (t *Transport) Close() {
	t.allocCancel()
}

// Send navigates to req.URL and returns the rendered DOM as the body.
func (t *Transport) Send(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, req.Method)
	}
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	taskCtx, taskCancel := chromedp.NewContext(t.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, t.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := t.render(taskCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return nil, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return &crawler.Response{
		Request:    req,
		URL:        responseURL,
		StatusCode: status,
		Header:     headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (t *Transport) render(ctx context.Context, req *crawler.Request) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		t.networkSetupAction(req.Header),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if t.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(t.cfg.Settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (t *Transport) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		userAgent := t.cfg.UserAgent
		if ua := headers.Get("User-Agent"); ua != "" {
			userAgent = ua
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		extra := headers.Clone()
		extra.Del("User-Agent")
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(extra)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (t *Transport) release() {
	if t.limiter == nil {
		return
	}
	select {
	case <-t.limiter:
	default:
	}
}

func (t *Transport) navTimeout() time.Duration {
	if t.cfg.NavigationTimeout > 0 {
		return t.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta keeps the status and headers of the main document response.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones belong to iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var _ crawler.Transport = (*Transport)(nil)
