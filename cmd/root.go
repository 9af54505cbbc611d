// Package cmd implements the crawlengine command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/logging"
)

type ctxKey string

const (
	viperKey  ctxKey = "viper"
	loggerKey ctxKey = "logger"
)

// newRootCmd builds the command tree. Config is read once in
// PersistentPreRunE and shared with subcommands through the context.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawlengine",
		Short: "Batch-synchronous web crawl engine",
		Long: `crawlengine runs a spider against a FIFO request queue with a bounded
number of concurrent fetches. Requests pass through an onion of middleware,
parsed items flow through a processor pipeline into the configured sinks.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			logger, err := logging.Build(logging.Config{
				Development: v.GetBool("logging.development"),
				Level:       v.GetString("logging.level"),
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), viperKey, v)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = loggerFrom(cmd.Context()).Sync()
		},
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func viperFrom(ctx context.Context) *viper.Viper {
	if v, ok := ctx.Value(viperKey).(*viper.Viper); ok {
		return v
	}
	return config.New()
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
