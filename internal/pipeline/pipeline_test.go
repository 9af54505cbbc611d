package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

type funcProcessor struct {
	name  string
	calls atomic.Int64
	fn    func(item *crawler.Item) (crawler.Step[*crawler.Item], error)
}

func (p *funcProcessor) Name() string { return p.name }

func (p *funcProcessor) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	p.calls.Add(1)
	return p.fn(item)
}

type recordingSink struct {
	mu       sync.Mutex
	items    []*crawler.Item
	active   atomic.Int64
	overlap  atomic.Bool
	err      error
	closeErr error
	closed   bool
}

func (s *recordingSink) Consume(_ context.Context, item *crawler.Item) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	time.Sleep(time.Millisecond)
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.closed = true
	return s.closeErr
}

func passThrough(name, key string) *funcProcessor {
	return &funcProcessor{name: name, fn: func(item *crawler.Item) (crawler.Step[*crawler.Item], error) {
		item.Set(key, true)
		return crawler.Proceed(item), nil
	}}
}

func TestPipelineRunsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string) *funcProcessor {
		return &funcProcessor{name: name, fn: func(item *crawler.Item) (crawler.Step[*crawler.Item], error) {
			order = append(order, name)
			return crawler.Proceed(item), nil
		}}
	}
	sink := &recordingSink{}
	p := New([]crawler.Processor{mk("P1"), mk("P2")}, sink, nil)
	require.Equal(t, []string{"P1", "P2"}, p.Names())

	delivered, err := p.Send(context.Background(), crawler.ItemFrom("k", "v"))
	require.NoError(t, err)
	require.True(t, delivered)
	require.Equal(t, []string{"P1", "P2"}, order)
	require.Len(t, sink.items, 1)
}

func TestPipelineDropStopsChain(t *testing.T) {
	t.Parallel()

	p1 := &funcProcessor{name: "P1", fn: func(*crawler.Item) (crawler.Step[*crawler.Item], error) {
		return crawler.Drop[*crawler.Item]("unwanted"), nil
	}}
	p2 := passThrough("P2", "seen")
	sink := &recordingSink{}
	p := New([]crawler.Processor{p1, p2}, sink, nil)

	item := crawler.NewItem()
	delivered, err := p.Send(context.Background(), item)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Zero(t, p2.calls.Load())
	require.Empty(t, sink.items)
	require.True(t, item.Dropped())
	require.Equal(t, "P1: unwanted", item.DropReason())
}

func TestPipelineMarkedDropStopsChain(t *testing.T) {
	t.Parallel()

	p1 := &funcProcessor{name: "P1", fn: func(item *crawler.Item) (crawler.Step[*crawler.Item], error) {
		item.Drop("marked")
		return crawler.Proceed(item), nil
	}}
	p2 := passThrough("P2", "seen")
	sink := &recordingSink{}

	delivered, err := New([]crawler.Processor{p1, p2}, sink, nil).Send(context.Background(), crawler.NewItem())
	require.NoError(t, err)
	require.False(t, delivered)
	require.Zero(t, p2.calls.Load())
	require.Empty(t, sink.items)
}

func TestPipelineReplacement(t *testing.T) {
	t.Parallel()

	replace := &funcProcessor{name: "replace", fn: func(*crawler.Item) (crawler.Step[*crawler.Item], error) {
		return crawler.Proceed(crawler.ItemFrom("replaced", true)), nil
	}}
	sink := &recordingSink{}
	_, err := New([]crawler.Processor{replace, passThrough("tag", "tagged")}, sink, nil).
		Send(context.Background(), crawler.ItemFrom("original", true))
	require.NoError(t, err)
	require.Equal(t, []string{"replaced", "tagged"}, sink.items[0].Keys())
}

func TestPipelineErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := &funcProcessor{name: "failing", fn: func(*crawler.Item) (crawler.Step[*crawler.Item], error) {
		return crawler.Step[*crawler.Item]{}, boom
	}}
	next := passThrough("next", "x")
	sink := &recordingSink{}
	_, err := New([]crawler.Processor{failing, next}, sink, nil).Send(context.Background(), crawler.NewItem())
	var pipeErr *crawler.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	require.Equal(t, "failing", pipeErr.Processor)
	require.ErrorIs(t, err, boom)
	require.Zero(t, next.calls.Load())

	badSink := &recordingSink{err: boom}
	delivered, err := New(nil, badSink, nil).Send(context.Background(), crawler.NewItem())
	require.False(t, delivered)
	require.ErrorAs(t, err, &pipeErr)
	require.Equal(t, "sink", pipeErr.Processor)

	_, err = New(nil, sink, nil).Send(context.Background(), nil)
	require.Error(t, err)
}

func TestPipelineSerializesSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := New([]crawler.Processor{passThrough("tag", "t")}, sink, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Send(context.Background(), crawler.NewItem())
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, sink.items, 20)
	require.False(t, sink.overlap.Load())
}

func TestPipelineClose(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{closeErr: errors.New("flush failed")}
	require.Error(t, New(nil, sink, nil).Close(context.Background()))
	require.True(t, sink.closed)
	require.NoError(t, New(nil, nil, nil).Close(context.Background()))

	delivered, err := New(nil, nil, nil).Send(context.Background(), crawler.NewItem())
	require.NoError(t, err)
	require.False(t, delivered)
}
