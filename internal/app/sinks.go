package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/sink"
	"github.com/JakeFAU/crawlengine/internal/sink/export"
	pgsink "github.com/JakeFAU/crawlengine/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/crawlengine/internal/sink/pubsub"
	sqlitesink "github.com/JakeFAU/crawlengine/internal/sink/sqlite"
	"github.com/JakeFAU/crawlengine/internal/storage"
	gcsstorage "github.com/JakeFAU/crawlengine/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawlengine/internal/storage/local"
	memstorage "github.com/JakeFAU/crawlengine/internal/storage/memory"
)

// setupSinks opens every configured item sink and fans them out behind one
// Multi stored in a.sinks. closeSinks closes it.
func (a *App) setupSinks(ctx context.Context) error {
	sc := a.cfg.Sinks
	runID := a.runID.String()
	var sinks []crawler.ItemSink
	// Deferred so a failure half way still closes the sinks already opened,
	// and so they close before the blob store they write to.
	defer func() {
		a.sinks = sink.NewMulti(sinks...)
		a.addCloser("item sinks", a.closeSinks)
	}()

	if sc.Log {
		sinks = append(sinks, sink.NewLog(a.logger))
		a.logger.Debug("added log item sink")
	}
	if sc.Export.Enabled() {
		store, err := a.setupBlobStore(ctx, sc.Export)
		if err != nil {
			return err
		}
		exp, err := export.New(store, export.Config{
			RunID:     runID,
			Prefix:    sc.Export.Prefix,
			BatchSize: sc.Export.BatchSize,
		}, a.logger.Named("export"))
		if err != nil {
			return fmt.Errorf("export sink init failed: %w", err)
		}
		sinks = append(sinks, exp)
		a.logger.Info("export sink enabled", zap.String("store", sc.Export.Store))
	}
	if sc.Postgres.DSN != "" {
		pg, err := pgsink.Open(ctx, pgsink.Config{
			DSN:         sc.Postgres.DSN,
			Table:       sc.Postgres.Table,
			CreateTable: sc.Postgres.CreateTable,
			MaxConns:    sc.Postgres.MaxConns,
		}, runID, a.opts.clock)
		if err != nil {
			return fmt.Errorf("postgres sink init failed: %w", err)
		}
		sinks = append(sinks, pg)
		a.logger.Info("postgres sink enabled", zap.String("table", sc.Postgres.Table))
	}
	if sc.SQLite.Path != "" {
		sq, err := sqlitesink.Open(ctx, sqlitesink.Config{
			Path:  sc.SQLite.Path,
			Table: sc.SQLite.Table,
		}, runID, a.opts.clock)
		if err != nil {
			return fmt.Errorf("sqlite sink init failed: %w", err)
		}
		sinks = append(sinks, sq)
		a.logger.Info("sqlite sink enabled", zap.String("path", sc.SQLite.Path))
	}
	if sc.PubSub.Topic != "" {
		ps, err := pubsubsink.Open(ctx, pubsubsink.Config{
			ProjectID: sc.PubSub.ProjectID,
			Topic:     sc.PubSub.Topic,
		}, runID)
		if err != nil {
			return fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinks = append(sinks, ps)
		a.logger.Info("pubsub sink enabled",
			zap.String("project", sc.PubSub.ProjectID),
			zap.String("topic", sc.PubSub.Topic),
		)
	}
	sinks = append(sinks, a.opts.extraSinks...)
	if len(sinks) == 0 {
		a.logger.Warn("no item sinks configured, items will be discarded")
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context, ec config.ExportConfig) (storage.BlobStore, error) {
	switch ec.Store {
	case config.StoreGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: ec.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		return store, nil
	case config.StoreLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: ec.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.addCloser("local blob store", func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return memstorage.NewBlobStore(), nil
	}
}
