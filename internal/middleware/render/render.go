// Package render promotes client-rendered pages to the headless transport.
// The "render" middleware spots app shells in plain HTTP responses and
// re-enqueues them marked for a browser; Router sends marked requests to the
// browser transport.
package render

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// MetaMode marks how a request should be fetched.
const MetaMode = "render_mode"

// ModeBrowser is the MetaMode value that selects the headless transport.
const ModeBrowser = "browser"

// Enqueuer is the part of the queue the middleware needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *crawler.Request) error
}

// Promoter is the "render" middleware.
type Promoter struct {
	detector *Detector
	queue    Enqueuer
	logger   *zap.Logger
}

// NewPromoter builds the middleware.
func NewPromoter(detector *Detector, queue Enqueuer, logger *zap.Logger) (*Promoter, error) {
	if queue == nil {
		return nil, fmt.Errorf("render: queue is required")
	}
	if detector == nil {
		detector = NewDetector(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{detector: detector, queue: queue, logger: logger}, nil
}

// Name implements crawler.Middleware.
func (*Promoter) Name() string { return "render" }

// ProcessResponse drops app shells fetched without a browser and enqueues a
// browser-marked copy of their request.
func (p *Promoter) ProcessResponse(ctx context.Context, resp *crawler.Response) (crawler.Step[*crawler.Response], error) {
	if Browser(resp.Request) || resp.StatusCode != http.StatusOK || !resp.IsHTML() {
		return crawler.Proceed(resp), nil
	}
	if !p.detector.NeedsRender(resp.Body) {
		return crawler.Proceed(resp), nil
	}
	next := resp.Request.Clone()
	next.SetMeta(MetaMode, ModeBrowser)
	next.SetMeta(crawler.MetaDontFilter, true)
	if err := p.queue.Enqueue(ctx, next); err != nil {
		return crawler.Step[*crawler.Response]{}, fmt.Errorf("enqueue browser fetch: %w", err)
	}
	p.logger.Debug("Promoted to browser", zap.String("url", resp.Request.URL), zap.Int("bytes", len(resp.Body)))
	return crawler.Drop[*crawler.Response]("promoted to browser"), nil
}

// Browser reports whether req is marked for the headless transport.
func Browser(req *crawler.Request) bool {
	if req == nil {
		return false
	}
	mode, _ := req.MetaValue(MetaMode)
	return mode == ModeBrowser
}

// Router is a crawler.Transport that sends browser-marked requests to
// BrowserBackend and everything else to Default. Without a BrowserBackend
// everything goes to Default.
type Router struct {
	Default        crawler.Transport
	BrowserBackend crawler.Transport
}

// Send implements crawler.Transport.
func (r *Router) Send(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	if r.BrowserBackend != nil && Browser(req) {
		return r.BrowserBackend.Send(ctx, req)
	}
	return r.Default.Send(ctx, req)
}
