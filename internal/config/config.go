// Package config loads and validates crawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlengine/internal/logging"
)

// Transport kinds.
const (
	TransportColly    = "colly"
	TransportHeadless = "headless"
)

// Export stores.
const (
	StoreMemory = "memory"
	StoreLocal  = "local"
	StoreGCS    = "gcs"
)

// Config captures every knob of a crawl run.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Transport TransportConfig `mapstructure:"transport"`
	Spider    SpiderConfig    `mapstructure:"spider"`
	Sinks     SinksConfig     `mapstructure:"sinks"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`

	// Components is the source of the middleware.<name> and
	// processors.<name> sections handed to component factories.
	Components *viper.Viper `mapstructure:"-"`
}

// EngineConfig bounds the crawl loop.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// BatchSize caps requests dequeued per iteration; 0 drains the queue.
	BatchSize int `mapstructure:"batch_size"`
	// QueueCapacity caps pending requests; 0 is unbounded.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// TransportConfig picks and tunes the fetcher.
type TransportConfig struct {
	Kind         string         `mapstructure:"kind"`
	UserAgent    string         `mapstructure:"user_agent"`
	Timeout      time.Duration  `mapstructure:"timeout"`
	MaxBodyBytes int            `mapstructure:"max_body_bytes"`
	Headless     HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig tunes the chromedp transport.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Settle      time.Duration `mapstructure:"settle"`
	// Promote keeps colly as the main transport and routes requests marked
	// by the render middleware to a browser.
	Promote bool `mapstructure:"promote"`
}

// SpiderConfig configures the link spider.
type SpiderConfig struct {
	Name           string   `mapstructure:"name"`
	StartURLs      []string `mapstructure:"start_urls"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	Follow         bool     `mapstructure:"follow"`
	SameHost       bool     `mapstructure:"same_host"`
	MaxLinks       int      `mapstructure:"max_links"`
	Middleware     []string `mapstructure:"middleware"`
	Processors     []string `mapstructure:"processors"`
}

// SinksConfig enables item sinks. A sink is on when its key field is set.
type SinksConfig struct {
	Log      bool           `mapstructure:"log"`
	Export   ExportConfig   `mapstructure:"export"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ExportConfig writes NDJSON parts to a blob store.
type ExportConfig struct {
	Store     string `mapstructure:"store"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	BatchSize int    `mapstructure:"batch_size"`
}

// PostgresConfig inserts items into a Postgres table.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	CreateTable bool   `mapstructure:"create_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// SQLiteConfig inserts items into a local SQLite file.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// PubSubConfig publishes items to a Pub/Sub topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	Log            bool          `mapstructure:"log"`
}

// ServerConfig controls the ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with env binding and defaults applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from an optional file plus environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance. The
// CLI uses it after binding flags.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma separated env values arrive as one string.
	cfg.Spider.StartURLs = splitList(cfg.Spider.StartURLs)
	cfg.Spider.AllowedDomains = splitList(cfg.Spider.AllowedDomains)
	cfg.Spider.Middleware = splitList(cfg.Spider.Middleware)
	cfg.Spider.Processors = splitList(cfg.Spider.Processors)

	cfg.Components = v

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.batch_size", 0)
	v.SetDefault("engine.queue_capacity", 0)
	v.SetDefault("transport.kind", TransportColly)
	v.SetDefault("transport.user_agent", "crawlengine/0.1")
	v.SetDefault("transport.timeout", 15*time.Second)
	v.SetDefault("transport.max_body_bytes", 10<<20)
	v.SetDefault("transport.headless.max_parallel", 1)
	v.SetDefault("transport.headless.nav_timeout", 25*time.Second)
	v.SetDefault("transport.headless.settle", time.Duration(0))
	v.SetDefault("transport.headless.promote", false)
	v.SetDefault("spider.name", "links")
	v.SetDefault("spider.start_urls", []string{})
	v.SetDefault("spider.allowed_domains", []string{})
	v.SetDefault("spider.follow", true)
	v.SetDefault("spider.same_host", true)
	v.SetDefault("spider.max_links", 200)
	v.SetDefault("spider.middleware", []string{"robots", "offsite", "depth", "dedup", "ratelimit", "headers", "httperror"})
	v.SetDefault("spider.processors", []string{"trim", "required", "stamp"})
	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.export.store", StoreLocal)
	v.SetDefault("sinks.export.prefix", "items")
	v.SetDefault("sinks.export.dir", "")
	v.SetDefault("sinks.export.bucket", "")
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.sqlite.path", "")
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("sinks.pubsub.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("sinks.sqlite.table", "crawl_items")
	v.SetDefault("sinks.postgres.table", "crawl_items")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.log", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.Concurrency <= 0 {
		errs = append(errs, errors.New("engine.concurrency must be > 0"))
	}
	if c.Engine.BatchSize < 0 {
		errs = append(errs, errors.New("engine.batch_size must be >= 0"))
	}
	if c.Engine.QueueCapacity < 0 {
		errs = append(errs, errors.New("engine.queue_capacity must be >= 0"))
	}
	switch c.Transport.Kind {
	case TransportColly:
		if c.Transport.Headless.Promote && c.Transport.Headless.MaxParallel <= 0 {
			errs = append(errs, errors.New("transport.headless.max_parallel must be > 0"))
		}
	case TransportHeadless:
		if c.Transport.Headless.MaxParallel <= 0 {
			errs = append(errs, errors.New("transport.headless.max_parallel must be > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is not one of colly, headless", c.Transport.Kind))
	}
	if slices.Contains(c.Spider.Middleware, "render") &&
		(c.Transport.Kind != TransportColly || !c.Transport.Headless.Promote) {
		errs = append(errs, errors.New("spider.middleware render needs transport.kind colly with transport.headless.promote"))
	}
	if c.Transport.Timeout <= 0 {
		errs = append(errs, errors.New("transport.timeout must be > 0"))
	}
	if c.Sinks.Export.Enabled() {
		switch c.Sinks.Export.Store {
		case StoreMemory, StoreLocal, StoreGCS:
		default:
			errs = append(errs, fmt.Errorf("sinks.export.store %q is not one of memory, local, gcs", c.Sinks.Export.Store))
		}
		if c.Sinks.Export.Store == StoreGCS && c.Sinks.Export.Bucket == "" {
			errs = append(errs, errors.New("sinks.export.bucket is required for the gcs store"))
		}
	}
	if c.Sinks.PubSub.Topic != "" && c.Sinks.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("sinks.pubsub.project_id is required with a topic"))
	}
	return errors.Join(errs...)
}

// Enabled reports whether the export sink should be built.
func (e ExportConfig) Enabled() bool {
	return e.Dir != "" || e.Bucket != "" || e.Store == StoreMemory
}

func splitList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
