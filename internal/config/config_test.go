package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Concurrency != 2 || cfg.Engine.BatchSize != 0 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Transport.Kind != TransportColly || cfg.Transport.Timeout != 15*time.Second {
		t.Fatalf("unexpected transport defaults %+v", cfg.Transport)
	}
	if !cfg.Spider.Follow || len(cfg.Spider.Middleware) == 0 {
		t.Fatalf("unexpected spider defaults %+v", cfg.Spider)
	}
	if cfg.Sinks.Export.Enabled() {
		t.Fatal("export sink should be off without a dir or bucket")
	}
	if cfg.Components == nil {
		t.Fatal("components should be set")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
engine:
  concurrency: 6
  batch_size: 10
transport:
  kind: headless
  timeout: 3s
  headless:
    max_parallel: 2
spider:
  name: prices
  start_urls: ["https://example.com/"]
  middleware: [depth, headers]
  processors: [required]
middleware:
  depth:
    max: 4
processors:
  required:
    fields: [title]
sinks:
  export:
    dir: /tmp/out
  sqlite:
    path: items.db
server:
  addr: ":9090"
logging:
  development: false
  level: warn
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Concurrency != 6 || cfg.Engine.BatchSize != 10 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Transport.Kind != TransportHeadless || cfg.Transport.Timeout != 3*time.Second || cfg.Transport.Headless.MaxParallel != 2 {
		t.Fatalf("transport = %+v", cfg.Transport)
	}
	if cfg.Spider.Name != "prices" || strings.Join(cfg.Spider.Middleware, ",") != "depth,headers" {
		t.Fatalf("spider = %+v", cfg.Spider)
	}
	if got := cfg.Components.Sub("middleware.depth").GetInt("max"); got != 4 {
		t.Fatalf("middleware.depth.max = %d", got)
	}
	if got := cfg.Components.Sub("processors.required").GetStringSlice("fields"); len(got) != 1 || got[0] != "title" {
		t.Fatalf("processors.required.fields = %v", got)
	}
	if !cfg.Sinks.Export.Enabled() || cfg.Sinks.Export.Store != StoreLocal {
		t.Fatalf("export = %+v", cfg.Sinks.Export)
	}
	if cfg.Sinks.SQLite.Table != "crawl_items" {
		t.Fatalf("sqlite = %+v", cfg.Sinks.SQLite)
	}
	if cfg.Server.Addr != ":9090" || cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("server/logging = %+v %+v", cfg.Server, cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_ENGINE_CONCURRENCY", "8")
	t.Setenv("CRAWLER_SPIDER_START_URLS", "https://a.test/, https://b.test/")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Fatalf("concurrency = %d", cfg.Engine.Concurrency)
	}
	if len(cfg.Spider.StartURLs) != 2 || cfg.Spider.StartURLs[1] != "https://b.test/" {
		t.Fatalf("start urls = %q", cfg.Spider.StartURLs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cases := map[string]func(*Config){
		"concurrency": func(c *Config) { c.Engine.Concurrency = 0 },
		"batch":       func(c *Config) { c.Engine.BatchSize = -1 },
		"kind":        func(c *Config) { c.Transport.Kind = "curl" },
		"headless":    func(c *Config) { c.Transport.Kind = TransportHeadless; c.Transport.Headless.MaxParallel = 0 },
		"timeout":     func(c *Config) { c.Transport.Timeout = 0 },
		"store":       func(c *Config) { c.Sinks.Export.Dir = "x"; c.Sinks.Export.Store = "s3" },
		"bucket":      func(c *Config) { c.Sinks.Export.Store = StoreGCS; c.Sinks.Export.Dir = "x" },
		"pubsub":      func(c *Config) { c.Sinks.PubSub.Topic = "items" },
		"render":      withRender,
		"browser":     func(c *Config) { withRender(c); c.Transport.Kind = TransportHeadless; c.Transport.Headless.Promote = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	promoted := base
	withRender(&promoted)
	promoted.Transport.Headless.Promote = true
	if err := promoted.Validate(); err != nil {
		t.Fatalf("render with promote should validate: %v", err)
	}
}

func withRender(c *Config) {
	c.Spider.Middleware = append(slices.Clone(c.Spider.Middleware), "render")
}
