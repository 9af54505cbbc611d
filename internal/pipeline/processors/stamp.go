package processors

import (
	"context"
	"time"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Stamp adds the spider name and the scrape time.
type Stamp struct {
	spider string
	clock  crawler.Clock
}

// NewStamp builds the processor.
func NewStamp(spider string, clock crawler.Clock) *Stamp {
	return &Stamp{spider: spider, clock: clock}
}

// Name implements crawler.Processor.
func (*Stamp) Name() string { return "stamp" }

// ProcessItem implements crawler.Processor.
func (s *Stamp) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	now := time.Now()
	if s.clock != nil {
		now = s.clock.Now()
	}
	item.Set("spider", s.spider)
	item.Set("scraped_at", now.UTC().Format(time.RFC3339Nano))
	return crawler.Proceed(item), nil
}
