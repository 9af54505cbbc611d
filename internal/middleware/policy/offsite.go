package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Offsite drops requests whose host is outside the allowed domains or matches
// a blocked pattern. An empty allow list admits every host.
type Offsite struct {
	allowed *hostPatterns
	blocked *hostPatterns
	logger  *zap.Logger
}

// NewOffsite builds the middleware. Allowed domains also admit their
// subdomains; blocked entries accept "*.x" and ".x" suffix rules.
func NewOffsite(allowedDomains, blockedPatterns []string, logger *zap.Logger) *Offsite {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make([]string, 0, len(allowedDomains)*2)
	for _, d := range allowedDomains {
		allowed = append(allowed, d, "*."+d)
	}
	return &Offsite{
		allowed: newHostPatterns(allowed),
		blocked: newHostPatterns(blockedPatterns),
		logger:  logger,
	}
}

// Name implements crawler.Middleware.
func (*Offsite) Name() string { return "offsite" }

// ProcessRequest implements crawler.RequestHook.
func (o *Offsite) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	host := req.Host()
	if o.blocked.Match(host) {
		o.logger.Debug("Dropping blocked host", zap.String("url", req.URL), zap.String("host", host))
		return crawler.Drop[*crawler.Request]("blocked host " + host), nil
	}
	if o.allowed != nil && !o.allowed.Match(host) {
		o.logger.Debug("Dropping offsite request", zap.String("url", req.URL), zap.String("host", host))
		return crawler.Drop[*crawler.Request]("offsite host " + host), nil
	}
	return crawler.Proceed(req), nil
}
