package policy

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// HTTPError vetoes responses whose status is outside 2xx unless the status is
// explicitly allowed.
type HTTPError struct {
	allowed map[int]struct{}
}

// NewHTTPError builds the middleware.
func NewHTTPError(allowedStatuses []int) *HTTPError {
	allowed := make(map[int]struct{}, len(allowedStatuses))
	for _, code := range allowedStatuses {
		allowed[code] = struct{}{}
	}
	return &HTTPError{allowed: allowed}
}

// Name implements crawler.Middleware.
func (*HTTPError) Name() string { return "httperror" }

// ProcessResponse implements crawler.ResponseHook.
func (h *HTTPError) ProcessResponse(_ context.Context, resp *crawler.Response) (crawler.Step[*crawler.Response], error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return crawler.Proceed(resp), nil
	}
	if _, ok := h.allowed[resp.StatusCode]; ok {
		return crawler.Proceed(resp), nil
	}
	return crawler.Drop[*crawler.Response](fmt.Sprintf("status %d", resp.StatusCode)), nil
}
