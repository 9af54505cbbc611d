// Package memory keeps delivered items in memory for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// ErrClosed is returned by Consume after Close.
var ErrClosed = errors.New("memory sink closed")

// Sink records items in delivery order.
type Sink struct {
	mu     sync.RWMutex
	items  []*crawler.Item
	closed bool
}

// New returns an empty memory sink.
func New() *Sink {
	return &Sink{}
}

// Consume appends the item.
func (s *Sink) Consume(_ context.Context, item *crawler.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items = append(s.items, item)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Items returns a snapshot of delivered items.
func (s *Sink) Items() []*crawler.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

var _ crawler.ItemSink = (*Sink)(nil)
