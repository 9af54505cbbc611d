package engine

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/progress"
)

// process handles one request end to end. Transport, middleware and parse
// failures are returned for the dispatcher to report; item failures are
// reported inline so the remaining results still get routed.
func (e *Engine) process(ctx context.Context, spider crawler.Spider, req *crawler.Request) error {
	logger := e.requestLogger(req)

	sent := false
	send := func(ctx context.Context, out *crawler.Request) (*crawler.Response, error) {
		sent = true
		e.stats.dispatched.Add(1)
		start := e.clock.Now()
		resp, err := e.transport.Send(ctx, out)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		if resp.Duration == 0 {
			resp.Duration = e.elapsedSince(start)
		}
		e.stats.responses.Add(1)
		site := metrics.SanitizeSite(out.URL)
		metrics.ObserveFetch(site, strconv.Itoa(resp.StatusCode), len(resp.Body))
		e.emit(progress.Event{
			Stage:       progress.StageFetchDone,
			Site:        site,
			URL:         out.URL,
			Bytes:       int64(len(resp.Body)),
			StatusClass: progress.ClassifyStatus(resp.StatusCode),
			Dur:         resp.Duration,
		})
		logger.Debug("Fetched", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(resp.Body)))
		return resp, nil
	}

	step, err := e.stack.Dispatch(ctx, req, send)
	if err != nil {
		return err
	}
	if step.Dropped() {
		stage := progress.StageRequestDropped
		if sent {
			stage = progress.StageResponseDropped
			e.stats.responsesDropped.Add(1)
		} else {
			e.stats.requestsDropped.Add(1)
		}
		e.emit(progress.Event{Stage: stage, URL: req.URL, Site: metrics.SanitizeSite(req.URL), Note: step.Reason()})
		logger.Debug("Dropped", zap.Bool("after_send", sent), zap.String("reason", step.Reason()))
		return nil
	}

	resp := step.Value()
	results, err := e.parse(ctx, spider, resp)
	if err != nil {
		return err
	}
	e.route(ctx, req, results)
	return nil
}

// parse runs the callback bound to the response's own request and drains its
// results. On error the partial results are discarded.
func (e *Engine) parse(ctx context.Context, spider crawler.Spider, resp *crawler.Response) ([]crawler.ParseResult, error) {
	callback := resp.Request.Callback
	if callback == nil {
		callback = spider.Parse
	}
	results, err := callback(ctx, resp)
	if err != nil {
		return nil, &crawler.ParseError{Spider: e.spider, URL: resp.Request.URL, Err: err}
	}
	return results, nil
}

func (e *Engine) route(ctx context.Context, req *crawler.Request, results []crawler.ParseResult) {
	for _, res := range results {
		switch res.Kind() {
		case crawler.ResultRequest:
			next, _ := res.Request()
			if err := e.queue.Enqueue(ctx, next); err != nil {
				e.recordFailure(next, err)
				continue
			}
			e.stats.enqueued.Add(1)
		case crawler.ResultItem:
			item, _ := res.Item()
			e.sendItem(ctx, req, item)
		default:
			e.requestLogger(req).Warn("Ignoring invalid parse result")
		}
	}
}

func (e *Engine) sendItem(ctx context.Context, req *crawler.Request, item *crawler.Item) {
	e.stats.itemsScraped.Add(1)
	e.emit(progress.Event{Stage: progress.StageItemScraped, URL: req.URL})

	delivered, err := e.pipeline.Send(ctx, item)
	switch {
	case err != nil:
		metrics.ObserveItem("error")
		e.recordFailure(req, err)
	case delivered:
		e.stats.itemsDelivered.Add(1)
		metrics.ObserveItem("delivered")
	default:
		e.stats.itemsDropped.Add(1)
		metrics.ObserveItem("dropped")
		e.emit(progress.Event{Stage: progress.StageItemDropped, URL: req.URL, Note: item.DropReason()})
	}
}
