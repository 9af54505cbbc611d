package processors

import (
	"context"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Required drops items that lack any of the configured fields or carry an
// empty string for them.
type Required struct {
	fields []string
}

// NewRequired builds the processor.
func NewRequired(fields []string) *Required {
	return &Required{fields: fields}
}

// Name implements crawler.Processor.
func (*Required) Name() string { return "required" }

// ProcessItem implements crawler.Processor.
func (r *Required) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	for _, field := range r.fields {
		v, ok := item.Get(field)
		if !ok || v == nil {
			return crawler.Drop[*crawler.Item]("missing " + field), nil
		}
		if s, isString := v.(string); isString && s == "" {
			return crawler.Drop[*crawler.Item]("empty " + field), nil
		}
	}
	return crawler.Proceed(item), nil
}
