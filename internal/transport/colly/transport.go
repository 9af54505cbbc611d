// Package collytransport implements crawler.Transport using gocolly.
package collytransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// Transport sends each request through a clone of one base collector. The
// clones share the pooled HTTP client, so Transport is safe for concurrent use.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport. A nil roundTripper uses a pooled http.Transport.
func New(cfg Config, roundTripper http.RoundTripper) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodySize
	}
	if roundTripper == nil {
		roundTripper = newHTTPTransport()
	}

	c := colly.NewCollector(colly.Async(false))
	// Policy belongs to middleware: no robots checks, no visited filter, and
	// error statuses come back as responses.
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(roundTripper)
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Send performs req and returns the response whatever its status code.
func (t *Transport) Send(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	var (
		result   *crawler.Response
		fetchErr error
	)
	start := time.Now()
	collector := t.buildCollector(ctx)
	t.configureCollectorHooks(collector, req, start, &result, &fetchErr)

	if err := t.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("colly returned no response for %s", req.URL)
	}
	return result, nil
}

func (t *Transport) buildCollector(ctx context.Context) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.Context = ctx
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	req *crawler.Request,
	start time.Time,
	result **crawler.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		resp := &crawler.Response{
			Request:    req,
			URL:        req.URL,
			StatusCode: r.StatusCode,
			Header:     http.Header{},
			Body:       bytes.Clone(r.Body),
			Duration:   time.Since(start),
		}
		if r.Request != nil && r.Request.URL != nil {
			resp.URL = r.Request.URL.String()
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		*result = resp
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, req *crawler.Request, fetchErr *error) error {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if err := collector.Request(method, req.URL, body, nil, requestHeaders(req)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		return fmt.Errorf("colly request failed: %w", err)
	}
	if *fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", *fetchErr)
	}
	return nil
}

func requestHeaders(req *crawler.Request) http.Header {
	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	return hdr
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Transport = (*Transport)(nil)
