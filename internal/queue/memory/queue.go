// Package memory provides the in-process request queue used for a single run.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Queue is an unbounded FIFO of requests guarded by a mutex. It never
// deduplicates: the same URL enqueued twice is dispatched twice. A pointer that
// is already pending is queued as a clone so two dispatches never share one
// request.
type Queue struct {
	mu      sync.Mutex
	pending []*crawler.Request
	held    map[*crawler.Request]struct{}
	closed  bool
}

// NewQueue constructs an empty queue. capacity only pre-sizes the backing slice.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		pending: make([]*crawler.Request, 0, capacity),
		held:    make(map[*crawler.Request]struct{}, capacity),
	}
}

// Enqueue appends a request or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req *crawler.Request) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	if req == nil {
		return errors.New("enqueue: nil request")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	if _, dup := q.held[req]; dup {
		req = req.Clone()
	}
	q.held[req] = struct{}{}
	q.pending = append(q.pending, req)
	return nil
}

// DequeueBatch removes up to maxItems requests in FIFO order. maxItems <= 0
// drains everything currently queued. An empty queue yields an empty batch.
func (q *Queue) DequeueBatch(ctx context.Context, maxItems int) ([]*crawler.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dequeue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	batch := make([]*crawler.Request, n)
	copy(batch, q.pending[:n])
	for _, req := range batch {
		delete(q.held, req)
	}
	clear(q.pending[:n])
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = q.pending[:0:0]
	}
	return batch, nil
}

// Empty reports whether nothing is queued.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further enqueues. Already queued requests can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

var _ crawler.Queue = (*Queue)(nil)
