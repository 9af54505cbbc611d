// Package export batches items into JSON Lines parts and writes them to a
// blob store.
//
// Parts are named <prefix>/<run id>/part-NNNNN.jsonl and are flushed every
// BatchSize items and once more on Close. Once Consume returns nil the item is
// buffered and will be written: a failed flush keeps the buffered lines so the
// next flush retries them, and only Flush and Close report the failure.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/storage"
)

// ContentType is attached to every part.
const ContentType = "application/x-ndjson"

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 500

// Config controls part naming and size.
type Config struct {
	RunID     string `mapstructure:"run_id"`
	Prefix    string `mapstructure:"prefix"`
	BatchSize int    `mapstructure:"batch_size"`
}

// Sink buffers encoded items and uploads them as parts.
type Sink struct {
	store  storage.BlobStore
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	pending int
	part    int
	uris    []string
	failed  int
}

// New validates cfg and returns an export sink.
func New(store storage.BlobStore, cfg Config, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, cfg: cfg, logger: logger.Named("export")}, nil
}

// Consume appends the item as one JSON line and flushes a full part. A failed
// flush is logged and counted, not returned: the item is already buffered.
func (s *Sink) Consume(ctx context.Context, item *crawler.Item) error {
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.pending++
	if s.pending < s.cfg.BatchSize {
		return nil
	}
	if err := s.flushLocked(ctx); err != nil {
		s.failed++
		s.logger.Warn("part flush failed, keeping lines buffered",
			zap.Int("buffered", s.pending),
			zap.Error(err),
		)
	}
	return nil
}

// Flush uploads any buffered lines as a new part.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Close flushes the remainder.
func (s *Sink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

// FailedFlushes counts batch flushes from Consume that did not reach the store.
func (s *Sink) FailedFlushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// URIs returns the locations of the parts written so far.
func (s *Sink) URIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.uris)
}

func (s *Sink) flushLocked(ctx context.Context) error {
	if s.pending == 0 {
		return nil
	}
	name := path.Join(s.cfg.Prefix, s.cfg.RunID, fmt.Sprintf("part-%05d.jsonl", s.part+1))
	uri, err := s.store.PutObject(ctx, name, ContentType, bytes.NewReader(s.buf.Bytes()))
	if err != nil {
		return fmt.Errorf("write part %s: %w", name, err)
	}
	s.part++
	s.logger.Debug("part written", zap.String("uri", uri), zap.Int("items", s.pending))
	s.uris = append(s.uris, uri)
	s.buf.Reset()
	s.pending = 0
	return nil
}

var _ crawler.ItemSink = (*Sink)(nil)
