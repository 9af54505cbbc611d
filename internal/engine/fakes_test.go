package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/progress"
)

// fakeTransport answers every request with a 200 whose body is the URL unless
// handle says otherwise. It records call order and peak concurrency.
type fakeTransport struct {
	delay  func(req *crawler.Request) time.Duration
	handle func(req *crawler.Request) (*crawler.Response, error)

	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64

	mu  sync.Mutex
	log []string
}

func (f *fakeTransport) Send(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	f.record("start " + req.URL)
	defer f.record("end " + req.URL)

	if f.delay != nil {
		if d := f.delay(req); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.handle != nil {
		return f.handle(req)
	}
	return okResponse(req), nil
}

func (f *fakeTransport) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeTransport) entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeTransport) urls() []string {
	var out []string
	for _, e := range f.entries() {
		if u, ok := strings.CutPrefix(e, "start "); ok {
			out = append(out, u)
		}
	}
	return out
}

func okResponse(req *crawler.Request) *crawler.Response {
	return &crawler.Response{
		Request:    req,
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(req.URL),
	}
}

// testSpider is a Spider built from functions.
type testSpider struct {
	seeds []*crawler.Request
	err   error
	parse crawler.ParseFunc
}

func (*testSpider) Name() string { return "test" }

func (s *testSpider) StartRequests(context.Context) ([]*crawler.Request, error) {
	return s.seeds, s.err
}

func (s *testSpider) Parse(ctx context.Context, resp *crawler.Response) ([]crawler.ParseResult, error) {
	if s.parse == nil {
		return nil, nil
	}
	return s.parse(ctx, resp)
}

// recordingMiddleware appends "<name>:req" and "<name>:resp" to a shared log.
type recordingMiddleware struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	m.append(m.name + ":req")
	req.Header.Add("X-Chain", m.name)
	return crawler.Proceed(req), nil
}

func (m *recordingMiddleware) ProcessResponse(_ context.Context, resp *crawler.Response) (crawler.Step[*crawler.Response], error) {
	m.append(m.name + ":resp")
	return crawler.Proceed(resp), nil
}

func (m *recordingMiddleware) append(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.log = append(*m.log, s)
}

// funcMiddleware adapts a request hook function.
type funcMiddleware struct {
	name string
	fn   func(req *crawler.Request) (crawler.Step[*crawler.Request], error)
}

func (m funcMiddleware) Name() string { return m.name }

func (m funcMiddleware) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Step[*crawler.Request], error) {
	return m.fn(req)
}

// funcProcessor adapts an item processor function.
type funcProcessor struct {
	name string
	fn   func(item *crawler.Item) (crawler.Step[*crawler.Item], error)
}

func (p funcProcessor) Name() string { return p.name }

func (p funcProcessor) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	return p.fn(item)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, e := range r.events {
		out[e.Stage]++
	}
	return out
}

func (r *recordingEmitter) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

var errBoom = errors.New("boom")

func mustRequests(urls ...string) []*crawler.Request {
	out := make([]*crawler.Request, len(urls))
	for i, u := range urls {
		out[i] = crawler.MustRequest(u)
	}
	return out
}
