package processors

import (
	"context"
	"strings"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Trim strips surrounding whitespace from string fields and optionally removes
// fields left empty.
type Trim struct {
	dropEmpty bool
}

// NewTrim builds the processor.
func NewTrim(dropEmpty bool) *Trim {
	return &Trim{dropEmpty: dropEmpty}
}

// Name implements crawler.Processor.
func (*Trim) Name() string { return "trim" }

// ProcessItem implements crawler.Processor.
func (t *Trim) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	for _, key := range item.Keys() {
		v, _ := item.Get(key)
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" && t.dropEmpty {
			item.Delete(key)
			continue
		}
		item.Set(key, s)
	}
	return crawler.Proceed(item), nil
}
