package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlengine/internal/progress"
)

// DefaultRecentCapacity bounds the ring kept by Recent.
const DefaultRecentCapacity = 1024

// Recent keeps the last N events in memory for the ops API.
type Recent struct {
	mu    sync.RWMutex
	ring  []progress.Event
	next  int
	full  bool
	total int64
}

// NewRecent allocates a ring holding capacity events.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Recent{ring: make([]progress.Event, capacity)}
}

// Consume appends the batch, overwriting the oldest events.
func (r *Recent) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		r.ring[r.next] = evt
		r.next = (r.next + 1) % len(r.ring)
		if r.next == 0 {
			r.full = true
		}
		r.total++
	}
	return nil
}

// Close implements progress.Sink.
func (r *Recent) Close(context.Context) error { return nil }

// Events returns up to limit of the newest events matching stage, oldest
// first. An empty stage matches everything; limit <= 0 returns all.
func (r *Recent) Events(stage progress.Stage, limit int) []progress.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	start := 0
	if r.full {
		size = len(r.ring)
		start = r.next
	}
	var out []progress.Event
	for i := size - 1; i >= 0; i-- {
		evt := r.ring[(start+i)%len(r.ring)]
		if stage != "" && evt.Stage != stage {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Total reports how many events were ever consumed.
func (r *Recent) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
