package engine

import (
	"maps"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of run counters.
type Stats struct {
	Seeds            int64            `json:"seeds"`
	Enqueued         int64            `json:"enqueued"`
	Dispatched       int64            `json:"dispatched"`
	Responses        int64            `json:"responses"`
	RequestsDropped  int64            `json:"requests_dropped"`
	ResponsesDropped int64            `json:"responses_dropped"`
	ItemsScraped     int64            `json:"items_scraped"`
	ItemsDelivered   int64            `json:"items_delivered"`
	ItemsDropped     int64            `json:"items_dropped"`
	Batches          int64            `json:"batches"`
	Errors           map[string]int64 `json:"errors"`
}

// counters is written concurrently by batch tasks.
type counters struct {
	seeds            atomic.Int64
	enqueued         atomic.Int64
	dispatched       atomic.Int64
	responses        atomic.Int64
	requestsDropped  atomic.Int64
	responsesDropped atomic.Int64
	itemsScraped     atomic.Int64
	itemsDelivered   atomic.Int64
	itemsDropped     atomic.Int64
	batches          atomic.Int64

	errMu  sync.Mutex
	errors map[string]int64
}

func (c *counters) addError(class string) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.errors == nil {
		c.errors = make(map[string]int64)
	}
	c.errors[class]++
}

func (c *counters) snapshot() Stats {
	c.errMu.Lock()
	errs := maps.Clone(c.errors)
	c.errMu.Unlock()
	if errs == nil {
		errs = map[string]int64{}
	}
	return Stats{
		Seeds:            c.seeds.Load(),
		Enqueued:         c.enqueued.Load(),
		Dispatched:       c.dispatched.Load(),
		Responses:        c.responses.Load(),
		RequestsDropped:  c.requestsDropped.Load(),
		ResponsesDropped: c.responsesDropped.Load(),
		ItemsScraped:     c.itemsScraped.Load(),
		ItemsDelivered:   c.itemsDelivered.Load(),
		ItemsDropped:     c.itemsDropped.Load(),
		Batches:          c.batches.Load(),
		Errors:           errs,
	}
}
