package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Multi fans each item out to several sinks in order. A failing sink does not
// stop delivery to the others; all errors are joined.
type Multi struct {
	sinks []crawler.ItemSink
}

// NewMulti combines sinks, skipping nil entries.
func NewMulti(sinks ...crawler.ItemSink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Consume delivers item to every sink.
func (m *Multi) Consume(ctx context.Context, item *crawler.Item) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Consume(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

var _ crawler.ItemSink = (*Multi)(nil)
