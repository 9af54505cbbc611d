package processors

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Dedupe drops items whose key field value was already delivered by an
// earlier item. Items without the field pass.
type Dedupe struct {
	field string
	mu    sync.Mutex
	seen  map[string]struct{}
}

// NewDedupe builds the processor keyed on field.
func NewDedupe(field string) *Dedupe {
	if field == "" {
		field = "url"
	}
	return &Dedupe{field: field, seen: make(map[string]struct{})}
}

// Name implements crawler.Processor.
func (*Dedupe) Name() string { return "dedupe" }

// ProcessItem implements crawler.Processor.
func (d *Dedupe) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	v, ok := item.Get(d.field)
	if !ok {
		return crawler.Proceed(item), nil
	}
	key := fmt.Sprint(v)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[key]; dup {
		return crawler.Drop[*crawler.Item](fmt.Sprintf("duplicate %s %q", d.field, key)), nil
	}
	d.seen[key] = struct{}{}
	return crawler.Proceed(item), nil
}
