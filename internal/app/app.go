// Package app assembles a crawl run from configuration: queue, transport,
// middleware, pipeline, sinks, progress hub, engine and ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	googleuuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/api"
	"github.com/JakeFAU/crawlengine/internal/clock/system"
	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/engine"
	"github.com/JakeFAU/crawlengine/internal/hash/sha256"
	"github.com/JakeFAU/crawlengine/internal/logging"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/middleware"
	"github.com/JakeFAU/crawlengine/internal/middleware/render"
	"github.com/JakeFAU/crawlengine/internal/pipeline"
	"github.com/JakeFAU/crawlengine/internal/progress"
	progresssinks "github.com/JakeFAU/crawlengine/internal/progress/sinks"
	memqueue "github.com/JakeFAU/crawlengine/internal/queue/memory"
	"github.com/JakeFAU/crawlengine/internal/registry"
	"github.com/JakeFAU/crawlengine/internal/spiders/linkspider"
	collytransport "github.com/JakeFAU/crawlengine/internal/transport/colly"
	"github.com/JakeFAU/crawlengine/internal/transport/headless"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	transport  crawler.Transport
	registry   *registry.Registry
	extraSinks []crawler.ItemSink
	registerer prometheus.Registerer
	clock      crawler.Clock
}

// WithTransport replaces the configured transport.
func WithTransport(t crawler.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRegistry replaces the builtin component registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithItemSink adds a sink next to the configured ones.
func WithItemSink(s crawler.ItemSink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s) }
}

// WithRegisterer sets where the progress collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App owns every component of one crawl run.
type App struct {
	cfg      config.Config
	base     *zap.Logger
	logger   *zap.Logger
	opts     options
	runID    googleuuid.UUID
	spider   *linkspider.Spider
	queue    *memqueue.Queue
	pipeline *pipeline.Pipeline
	engine   *engine.Engine
	hub      *progress.Hub
	server   *api.Server
	closers  []closer

	sinks         crawler.ItemSink
	closeSinkOnce sync.Once
	closeSinkErr  error
}

// Build wires an App. Component resolution failures are returned as
// *crawler.ResolveError before anything is fetched.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = registry.NewDefault()
	}

	runID, err := googleuuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a := &App{cfg: cfg, base: logger, opts: o, runID: runID}

	a.spider, err = linkspider.New(linkspider.Config{
		Name:       cfg.Spider.Name,
		StartURLs:  cfg.Spider.StartURLs,
		Middleware: cfg.Spider.Middleware,
		Processors: cfg.Spider.Processors,
		Follow:     cfg.Spider.Follow,
		SameHost:   cfg.Spider.SameHost,
		MaxLinks:   cfg.Spider.MaxLinks,
	})
	if err != nil {
		return nil, fmt.Errorf("spider init failed: %w", err)
	}
	a.logger = logging.ForRun(logger, runID.String(), a.spider.Name())
	a.logger.Info("building crawl run")
	metrics.Init()

	a.queue = memqueue.NewQueue(cfg.Engine.QueueCapacity)
	a.addCloser("queue", func(context.Context) error {
		a.queue.Close()
		return nil
	})

	if err := a.build(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	transport, err := a.setupTransport()
	if err != nil {
		return err
	}
	recent, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}

	deps := registry.Deps{
		Logger:         a.logger,
		Queue:          a.queue,
		Clock:          a.opts.clock,
		Hasher:         sha256.New(),
		SpiderName:     a.spider.Name(),
		UserAgent:      a.cfg.Transport.UserAgent,
		AllowedDomains: a.cfg.Spider.AllowedDomains,
		HTTPClient:     &http.Client{Timeout: a.cfg.Transport.Timeout},
	}
	mws, err := a.opts.registry.Middleware(a.spider.Middleware(), a.cfg.Components, deps)
	if err != nil {
		return err
	}
	procs, err := a.opts.registry.Processors(a.spider.Processors(), a.cfg.Components, deps)
	if err != nil {
		return err
	}
	stack := middleware.NewStack(mws...)

	if err := a.setupSinks(ctx); err != nil {
		return err
	}
	a.pipeline = pipeline.New(procs, a.sinks, a.logger.Named("pipeline"))

	engineOpts := []engine.Option{engine.WithRunID(a.runID), engine.WithClock(a.opts.clock)}
	if a.hub != nil {
		engineOpts = append(engineOpts, engine.WithEmitter(a.hub))
	}
	a.engine = engine.New(
		engine.Config{Concurrency: a.cfg.Engine.Concurrency, BatchSize: a.cfg.Engine.BatchSize},
		a.queue,
		transport,
		stack,
		a.pipeline,
		a.base,
		engineOpts...,
	)

	var events api.EventSource
	if recent != nil {
		events = recent
	}
	a.server = api.NewServer(a.engine, events, a.logger)

	a.logger.Info("crawl run assembled",
		zap.Strings("middleware", stack.Names()),
		zap.Strings("processors", a.pipeline.Names()),
		zap.Int("concurrency", a.cfg.Engine.Concurrency),
		zap.Int("batch_size", a.cfg.Engine.BatchSize),
	)
	return nil
}

func (a *App) setupTransport() (crawler.Transport, error) {
	if a.opts.transport != nil {
		return a.opts.transport, nil
	}
	tc := a.cfg.Transport
	if tc.Kind == config.TransportHeadless {
		return a.setupHeadless()
	}

	a.logger.Info("using colly transport", zap.String("user_agent", tc.UserAgent))
	plain := collytransport.New(collytransport.Config{
		UserAgent:    tc.UserAgent,
		Timeout:      tc.Timeout,
		MaxBodyBytes: tc.MaxBodyBytes,
	}, nil)
	if !tc.Headless.Promote {
		return plain, nil
	}
	browser, err := a.setupHeadless()
	if err != nil {
		return nil, err
	}
	a.logger.Info("render promotion enabled")
	return &render.Router{Default: plain, BrowserBackend: browser}, nil
}

func (a *App) setupHeadless() (crawler.Transport, error) {
	tc := a.cfg.Transport
	t, err := headless.New(headless.Config{
		MaxParallel:       tc.Headless.MaxParallel,
		UserAgent:         tc.UserAgent,
		NavigationTimeout: tc.Headless.NavTimeout,
		Settle:            tc.Headless.Settle,
	})
	if err != nil {
		return nil, fmt.Errorf("headless transport init failed: %w", err)
	}
	a.addCloser("headless transport", func(context.Context) error {
		t.Close()
		return nil
	})
	a.logger.Info("using headless transport", zap.Int("max_parallel", tc.Headless.MaxParallel))
	return t, nil
}

func (a *App) setupProgress(ctx context.Context) (*progresssinks.Recent, error) {
	pc := a.cfg.Progress
	if !pc.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	recent := progresssinks.NewRecent(progresssinks.DefaultRecentCapacity)
	sinkList := []progress.Sink{recent}
	promSink, err := progresssinks.NewPrometheusSink(a.opts.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if pc.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   pc.MaxBatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	a.addCloser("progress hub", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", pc.BufferSize),
		zap.Duration("max_batch_wait", pc.MaxBatchWait),
	)
	return recent, nil
}

// Server returns the ops server.
func (a *App) Server() *api.Server { return a.server }

// Engine returns the crawl engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// RunID returns the run identifier shared by the engine and the sinks.
func (a *App) RunID() googleuuid.UUID { return a.runID }

// Run crawls until the queue drains or ctx is done, then closes the item
// pipeline. The ops server, when configured, lives for the duration of Run.
func (a *App) Run(ctx context.Context) (engine.Stats, error) {
	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if addr := a.cfg.Server.Addr; addr != "" {
		go func() { serverDone <- a.server.Serve(serverCtx, addr) }()
	} else {
		serverDone <- nil
	}

	a.server.SetState(api.StateRunning)
	runErr := a.engine.Run(ctx, a.spider)
	a.server.SetState(api.StateDone)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := a.closeSinks(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	stopServer()
	if err := <-serverDone; err != nil {
		errs = append(errs, err)
	}
	stats := a.engine.Stats()
	a.logger.Info("crawl run complete", zap.Any("stats", stats), zap.Any("progress", a.hub.Stats()))
	return stats, errors.Join(errs...)
}

// closeSinks flushes and closes the item sinks exactly once, through the
// pipeline when one was built so the close is serialized with deliveries.
func (a *App) closeSinks(ctx context.Context) error {
	a.closeSinkOnce.Do(func() {
		switch {
		case a.pipeline != nil:
			a.closeSinkErr = a.pipeline.Close(ctx)
		case a.sinks != nil:
			a.closeSinkErr = a.sinks.Close(ctx)
		}
		if a.closeSinkErr != nil {
			a.closeSinkErr = fmt.Errorf("close item sinks: %w", a.closeSinkErr)
		}
	})
	return a.closeSinkErr
}

// Close releases everything Build acquired, in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}
