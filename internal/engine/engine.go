// Package engine drives a crawl: it seeds the queue from a spider, dispatches
// queued requests in batches through the middleware stack and transport, hands
// each response to its parse callback and routes the results back into the
// queue or through the item pipeline until the queue runs dry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/clock/system"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/dispatcher"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/middleware"
	"github.com/JakeFAU/crawlengine/internal/pipeline"
	"github.com/JakeFAU/crawlengine/internal/progress"
)

// Config controls the work loop.
type Config struct {
	// Concurrency caps simultaneous dispatches within a batch.
	Concurrency int `mapstructure:"concurrency"`
	// BatchSize caps how many queued requests one iteration takes; 0 takes all.
	BatchSize int `mapstructure:"batch_size"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEmitter publishes progress events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithRunID fixes the run identifier.
func WithRunID(id uuid.UUID) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithIDGenerator supplies run IDs when none is fixed.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithClock overrides the time source.
func WithClock(clock crawler.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine runs one crawl at a time.
type Engine struct {
	cfg       Config
	queue     crawler.Queue
	transport crawler.Transport
	stack     *middleware.Stack
	pipeline  *pipeline.Pipeline
	logger    *zap.Logger
	emitter   progress.Emitter
	ids       crawler.IDGenerator
	clock     crawler.Clock
	runID     uuid.UUID
	spider    string
	stats     counters
}

// New wires an engine from already-constructed collaborators. A nil stack or
// pipeline behaves as an empty one.
func New(
	cfg Config,
	queue crawler.Queue,
	transport crawler.Transport,
	stack *middleware.Stack,
	pipe *pipeline.Pipeline,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = dispatcher.DefaultLimit
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stack == nil {
		stack = middleware.NewStack()
	}
	if pipe == nil {
		pipe = pipeline.New(nil, nil, logger)
	}
	e := &Engine{
		cfg:       cfg,
		queue:     queue,
		transport: transport,
		stack:     stack,
		pipeline:  pipe,
		logger:    logger.Named("engine"),
		emitter:   progress.NopEmitter{},
		clock:     system.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunID returns the run identifier, which is zero until Run starts unless it
// was fixed with WithRunID.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Run seeds the queue from spider and processes batches until the queue is
// empty. Per-request failures are logged, counted and emitted but never end
// the run. Run fails only when seeding fails or ctx ends; in the latter case
// the batch in flight is allowed to settle first.
func (e *Engine) Run(ctx context.Context, spider crawler.Spider) error {
	if spider == nil {
		return errors.New("run: spider is required")
	}
	if e.queue == nil || e.transport == nil {
		return errors.New("run: queue and transport are required")
	}
	if err := e.ensureRunID(); err != nil {
		return err
	}
	e.spider = spider.Name()
	logger := e.logger.With(zap.String("run_id", e.runID.String()), zap.String("spider", e.spider))

	started := e.clock.Now()
	e.emit(progress.Event{Stage: progress.StageRunStart})
	logger.Info("Run started",
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Strings("middleware", e.stack.Names()),
		zap.Strings("processors", e.pipeline.Names()),
	)
	defer func() {
		elapsed := e.clock.Now().Sub(started)
		e.emit(progress.Event{Stage: progress.StageRunDone, Dur: elapsed})
		s := e.Stats()
		logger.Info("Run finished",
			zap.Duration("elapsed", elapsed),
			zap.Int64("batches", s.Batches),
			zap.Int64("dispatched", s.Dispatched),
			zap.Int64("items_delivered", s.ItemsDelivered),
			zap.Any("errors", s.Errors),
		)
	}()

	if err := e.seed(ctx, spider); err != nil {
		return err
	}

	for !e.queue.Empty() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}
		batch, err := e.queue.DequeueBatch(ctx, e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("dequeue batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := e.runBatch(ctx, spider, batch); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}
	}
	return nil
}

func (e *Engine) ensureRunID() error {
	if e.runID != uuid.Nil {
		return nil
	}
	if e.ids == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		e.runID = id
		return nil
	}
	raw, err := e.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse run id %q: %w", raw, err)
	}
	e.runID = id
	return nil
}

func (e *Engine) seed(ctx context.Context, spider crawler.Spider) error {
	seeds, err := spider.StartRequests(ctx)
	if err != nil {
		return fmt.Errorf("start requests: %w", err)
	}
	for _, req := range seeds {
		if req == nil {
			continue
		}
		if err := e.queue.Enqueue(ctx, req); err != nil {
			return fmt.Errorf("enqueue seed %s: %w", req.URL, err)
		}
		e.stats.seeds.Add(1)
	}
	e.logger.Debug("Queue seeded", zap.Int64("seeds", e.stats.seeds.Load()))
	return nil
}

// runBatch blocks until every request of batch settled.
func (e *Engine) runBatch(ctx context.Context, spider crawler.Spider, batch []*crawler.Request) error {
	e.stats.batches.Add(1)
	metrics.ObserveBatch(len(batch))

	tasks := make([]dispatcher.Task, len(batch))
	for i, req := range batch {
		tasks[i] = func(ctx context.Context) error {
			return e.process(ctx, spider, req)
		}
	}
	d := dispatcher.New(e.cfg.Concurrency, dispatcher.WithErrorHandler(func(i int, err error) {
		e.recordFailure(batch[i], err)
	}))
	if err := d.Dispatch(ctx, tasks); err != nil {
		return err
	}
	return nil
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = e.clock.Now().UTC()
	evt.Spider = e.spider
	e.emitter.Emit(evt)
}

func (e *Engine) requestLogger(req *crawler.Request) *zap.Logger {
	return e.logger.With(
		zap.String("request_id", req.ID),
		zap.String("url", req.URL),
		zap.Int("depth", req.Depth),
	)
}

// recordFailure is the single place per-request failures are reported.
func (e *Engine) recordFailure(req *crawler.Request, err error) {
	class := crawler.Classify(err)
	var panicErr *dispatcher.PanicError
	if errors.As(err, &panicErr) {
		class = crawler.ClassPanic
	}
	e.stats.addError(class)
	metrics.ObserveError(class)

	stage := progress.StageFetchError
	switch class {
	case crawler.ClassParse:
		stage = progress.StageParseError
	case crawler.ClassPipeline:
		stage = progress.StageItemError
	}
	evt := progress.Event{Stage: stage, ErrorClass: class, Note: err.Error()}
	if req != nil {
		evt.URL = req.URL
		evt.Site = metrics.SanitizeSite(req.URL)
	}
	e.emit(evt)

	logger := e.logger
	if req != nil {
		logger = e.requestLogger(req)
	}
	if panicErr != nil {
		logger.Error("Request task panicked", zap.Any("panic", panicErr.Value), zap.ByteString("stack", panicErr.Stack))
		return
	}
	logger.Warn("Request failed", zap.String("class", class), zap.Error(err))
}

func (e *Engine) elapsedSince(start time.Time) time.Duration {
	d := e.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
