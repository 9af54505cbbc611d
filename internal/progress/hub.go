package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	// BufferSize is the capacity of the emit channel.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext is the parent of every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches run events and fans each batch out to its sinks. Emit never
// blocks the engine: when the buffer is full the event is counted as lost.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropLog    rate.Sometimes
	unreported atomic.Int64
	accepted   atomic.Int64
	lost       atomic.Int64
	flushes    atomic.Int64
	sinkErrors atomic.Int64
	closed     atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine for the supplied sinks.
// Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   live,
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit validates evt and hands it to the batching goroutine.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		h.lost.Add(1)
		h.unreported.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.unreported.Swap(0)))
		})
	}
}

// HubStats reports the hub counters since it started.
type HubStats struct {
	Accepted   int64 `json:"accepted"`
	Lost       int64 `json:"lost"`
	Flushes    int64 `json:"flushes"`
	SinkErrors int64 `json:"sink_errors"`
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{
		Accepted:   h.accepted.Load(),
		Lost:       h.lost.Load(),
		Flushes:    h.flushes.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Close stops intake, flushes what is buffered, closes the sinks and waits
// for the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// run owns the pending batch. The deadline timer is armed by the first event
// of a batch and disarmed by every flush.
func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		deadline *time.Timer
		expired  <-chan time.Time
	)
	flush := func() {
		if deadline != nil {
			deadline.Stop()
			deadline, expired = nil, nil
		}
		h.flush(batch)
		batch = batch[:0]
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents, evt.Stage == StageRunDone:
				flush()
			case deadline == nil:
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				expired = deadline.C
			}
		case <-expired:
			flush()
		case <-h.stopCh:
			h.drain(batch)
			if deadline != nil {
				deadline.Stop()
			}
			h.closeSinks()
			return
		}
	}
}

// drain flushes batch together with whatever is still buffered.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			return
		}
	}
}

// flush hands a copy of batch to every sink concurrently and waits for all of
// them. A failing or slow sink does not hold back the others beyond
// SinkTimeout.
func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 || len(h.sinks) == 0 {
		return
	}
	h.flushes.Add(1)
	events := append([]Event(nil), batch...)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, events); err != nil {
				h.sinkErrors.Add(1)
				h.logger.Warn("progress sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(events)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
