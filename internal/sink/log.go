package sink

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Log writes every item as one structured log entry.
type Log struct {
	logger *zap.Logger
	count  atomic.Int64
}

// NewLog returns a sink that logs items at info level.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("items")}
}

// Consume logs the item fields in insertion order.
func (l *Log) Consume(_ context.Context, item *crawler.Item) error {
	n := l.count.Add(1)
	l.logger.Info("item",
		zap.Int64("seq", n),
		zap.String("url", item.GetString("url")),
		zap.Any("fields", item),
	)
	return nil
}

// Close logs the total number of items seen.
func (l *Log) Close(context.Context) error {
	l.logger.Info("item sink closed", zap.Int64("items", l.count.Load()))
	return nil
}

// Count returns the number of items consumed.
func (l *Log) Count() int64 {
	return l.count.Load()
}

var _ crawler.ItemSink = (*Log)(nil)
