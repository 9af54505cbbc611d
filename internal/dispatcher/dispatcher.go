// Package dispatcher runs a batch of request tasks under a fixed concurrency
// ceiling.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlengine/internal/metrics"
)

// DefaultLimit is the number of tasks allowed in flight when none is configured.
const DefaultLimit = 2

// Task is one unit of batch work. Its error never cancels sibling tasks.
type Task func(ctx context.Context) error

// PanicError is reported to the error hook when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithErrorHandler installs a hook that receives each task error, including
// recovered panics. The hook may be called concurrently.
func WithErrorHandler(fn func(index int, err error)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// Dispatcher starts at most limit tasks at once and starts the next one as
// soon as a slot frees.
type Dispatcher struct {
	limit    int
	inFlight atomic.Int64
	onError  func(index int, err error)
}

// New creates a Dispatcher. limit <= 0 uses DefaultLimit.
func New(limit int, opts ...Option) *Dispatcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	d := &Dispatcher{limit: limit}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Limit returns the concurrency ceiling.
func (d *Dispatcher) Limit() int {
	return d.limit
}

// InFlight returns the number of tasks currently executing.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Dispatch runs every task and returns once all started tasks settled. When
// ctx ends, tasks not yet started are skipped and ctx.Err() is returned after
// the running ones finish. Task errors go to the error hook only.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task) error {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d.run(ctx, i, task)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch canceled: %w", err)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, index int, task Task) {
	d.inFlight.Add(1)
	metrics.IncInFlight()
	defer func() {
		d.inFlight.Add(-1)
		metrics.DecInFlight()
		if r := recover(); r != nil {
			d.report(index, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	if err := task(ctx); err != nil {
		d.report(index, err)
	}
}

func (d *Dispatcher) report(index int, err error) {
	if d.onError != nil {
		d.onError(index, err)
	}
}
