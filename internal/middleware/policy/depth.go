package policy

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// MetaDepth is the metadata key the depth middleware records.
const MetaDepth = "depth"

// Depth drops requests deeper than a maximum. A maximum of zero or less only
// records the depth.
type Depth struct {
	max int
}

// NewDepth builds the middleware.
func NewDepth(maxDepth int) *Depth {
	return &Depth{max: maxDepth}
}

// Name implements crawler.Middleware.
func (*Depth) Name() string { return "depth" }

// ProcessRequest implements crawler.RequestHook.
func (d *Depth) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	if d.max > 0 && req.Depth > d.max {
		return crawler.Drop[*crawler.Request](fmt.Sprintf("depth %d exceeds %d", req.Depth, d.max)), nil
	}
	req.SetMeta(MetaDepth, req.Depth)
	return crawler.Proceed(req), nil
}
