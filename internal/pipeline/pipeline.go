// Package pipeline runs extracted items through an ordered chain of
// processors and hands survivors to a single sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Pipeline is safe for concurrent Send calls. Processors are shared across
// items and must synchronize any state they keep; sink calls are serialized.
type Pipeline struct {
	processors []crawler.Processor
	sink       crawler.ItemSink
	sinkMu     sync.Mutex
	logger     *zap.Logger
}

// New builds a Pipeline. A nil sink discards surviving items.
func New(processors []crawler.Processor, sink crawler.ItemSink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		processors: processors,
		sink:       sink,
		logger:     logger,
	}
}

// Names returns the processor names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// Send runs item through every processor in order. delivered is true only
// when the sink accepted the item. A drop is not an error; a processor or sink
// failure comes back as *crawler.PipelineError.
func (p *Pipeline) Send(ctx context.Context, item *crawler.Item) (bool, error) {
	if item == nil {
		return false, &crawler.PipelineError{Processor: "pipeline", Err: errors.New("nil item")}
	}
	current := item
	for _, proc := range p.processors {
		if current.Dropped() {
			break
		}
		step, err := proc.ProcessItem(ctx, current)
		if err != nil {
			return false, &crawler.PipelineError{Processor: proc.Name(), Err: err}
		}
		if step.Dropped() {
			current.Drop(fmt.Sprintf("%s: %s", proc.Name(), step.Reason()))
			break
		}
		if step.Value() != nil {
			current = step.Value()
		}
	}
	if current.Dropped() {
		if current != item {
			item.Drop(current.DropReason())
		}
		p.logger.Debug("Item dropped", zap.String("reason", current.DropReason()))
		return false, nil
	}
	if p.sink == nil {
		return false, nil
	}

	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if err := p.sink.Consume(ctx, current); err != nil {
		return false, &crawler.PipelineError{Processor: "sink", Err: err}
	}
	return true, nil
}

// Close closes the sink.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.sink == nil {
		return nil
	}
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if err := p.sink.Close(ctx); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}
