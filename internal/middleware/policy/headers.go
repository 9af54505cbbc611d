package policy

import (
	"context"
	"net/http"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// DefaultUserAgent is sent when neither the request nor the config sets one.
const DefaultUserAgent = "crawlengine/1.0 (+https://github.com/JakeFAU/crawlengine)"

// Headers fills in default request headers without overriding ones the
// spider already set.
type Headers struct {
	defaults http.Header
}

// NewHeaders builds the middleware. userAgent falls back to DefaultUserAgent.
func NewHeaders(userAgent string, defaults map[string]string) *Headers {
	h := make(http.Header, len(defaults)+1)
	for k, v := range defaults {
		h.Set(k, v)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h.Set("User-Agent", userAgent)
	if h.Get("Accept") == "" {
		h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	return &Headers{defaults: h}
}

// Name implements crawler.Middleware.
func (*Headers) Name() string { return "headers" }

// ProcessRequest implements crawler.RequestHook.
func (h *Headers) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for key, values := range h.defaults {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return crawler.Proceed(req), nil
}
