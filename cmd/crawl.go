package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/app"
	"github.com/JakeFAU/crawlengine/internal/config"
)

// flag name -> config key
var crawlFlagKeys = map[string]string{
	"url":         "spider.start_urls",
	"concurrency": "engine.concurrency",
	"batch-size":  "engine.batch_size",
	"addr":        "server.addr",
	"transport":   "transport.kind",
}

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl until the queue drains",
		Long: `Seeds the queue from the configured spider, then repeatedly dequeues a
batch, fetches it with bounded concurrency and feeds discovered requests back
into the queue. Exits when the queue is empty or on SIGINT/SIGTERM after the
in-flight batch settles. Final counters are printed as JSON.`,
		RunE: runCrawl,
	}
	cmd.Flags().StringSlice("url", nil, "start URL (repeatable); overrides spider.start_urls")
	cmd.Flags().Int("concurrency", 0, "maximum concurrent fetches; overrides engine.concurrency")
	cmd.Flags().Int("batch-size", 0, "requests per loop iteration, 0 drains the queue; overrides engine.batch_size")
	cmd.Flags().String("addr", "", "ops server listen address; overrides server.addr")
	cmd.Flags().String("transport", "", "colly or headless; overrides transport.kind")
	return cmd
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	v := viperFrom(ctx)
	logger := loggerFrom(ctx)

	for name, key := range crawlFlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build crawl: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	stats, runErr := a.Run(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}
