// Package retry re-enqueues requests that failed in transport or came back
// with a retryable status. The engine itself never retries.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/clock/system"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/metrics"
)

// Metadata keys carried by retried requests.
const (
	MetaAttempt   = "retry_attempt"
	MetaNotBefore = "retry_not_before"
)

// Enqueuer is the part of the queue the middleware needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *crawler.Request) error
}

// Config controls the retry policy.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RetryStatuses []int
}

// DefaultConfig retries throttling and server errors up to 3 attempts in total.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		RetryStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Middleware is the "retry" middleware.
type Middleware struct {
	cfg     Config
	backoff Backoff
	queue   Enqueuer
	clock   crawler.Clock
	logger  *zap.Logger
}

// New builds the middleware. Zero config fields take DefaultConfig values.
func New(cfg Config, queue Enqueuer, clock crawler.Clock, logger *zap.Logger) (*Middleware, error) {
	if queue == nil {
		return nil, fmt.Errorf("retry middleware requires a queue")
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = def.RetryStatuses
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		cfg:     cfg,
		backoff: Backoff{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay},
		queue:   queue,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Name implements crawler.Middleware.
func (*Middleware) Name() string { return "retry" }

// ProcessRequest holds a retried request until its backoff has elapsed.
func (m *Middleware) ProcessRequest(ctx context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	v, ok := req.MetaValue(MetaNotBefore)
	if !ok {
		return crawler.Proceed(req), nil
	}
	notBefore, _ := v.(time.Time)
	if wait := notBefore.Sub(m.clock.Now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return crawler.Step[*crawler.Request]{}, fmt.Errorf("retry backoff: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return crawler.Proceed(req), nil
}

// ProcessResponse re-enqueues responses with a retryable status and drops
// them. Once attempts are exhausted the response passes through.
func (m *Middleware) ProcessResponse(ctx context.Context, resp *crawler.Response) (crawler.Step[*crawler.Response], error) {
	if !slices.Contains(m.cfg.RetryStatuses, resp.StatusCode) {
		return crawler.Proceed(resp), nil
	}
	scheduled, err := m.schedule(ctx, resp.Request, fmt.Sprintf("status %d", resp.StatusCode))
	if err != nil {
		return crawler.Step[*crawler.Response]{}, err
	}
	if !scheduled {
		return crawler.Proceed(resp), nil
	}
	return crawler.Drop[*crawler.Response](fmt.Sprintf("retrying status %d", resp.StatusCode)), nil
}

// ProcessFailure re-enqueues requests whose transport call failed.
func (m *Middleware) ProcessFailure(ctx context.Context, req *crawler.Request, err error) {
	if !retryableError(err) {
		return
	}
	if _, serr := m.schedule(ctx, req, err.Error()); serr != nil {
		m.logger.Warn("Failed to schedule retry", zap.String("url", req.URL), zap.Error(serr))
	}
}

func (m *Middleware) schedule(ctx context.Context, req *crawler.Request, cause string) (bool, error) {
	attempt := req.MetaInt(MetaAttempt) + 1
	if attempt >= m.cfg.MaxAttempts {
		m.logger.Info("Giving up after retries",
			zap.String("url", req.URL),
			zap.Int("attempts", attempt),
			zap.String("cause", cause),
		)
		return false, nil
	}
	delay := m.backoff.Delay(attempt)
	next := req.Clone()
	next.SetMeta(MetaAttempt, attempt)
	next.SetMeta(MetaNotBefore, m.clock.Now().Add(delay))
	next.SetMeta(crawler.MetaDontFilter, true)
	if err := m.queue.Enqueue(ctx, next); err != nil {
		return false, fmt.Errorf("enqueue retry: %w", err)
	}
	metrics.ObserveRetry()
	m.logger.Debug("Scheduled retry",
		zap.String("url", req.URL),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay),
		zap.String("cause", cause),
	)
	return true, nil
}
