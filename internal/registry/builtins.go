package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/hash/sha256"
	"github.com/JakeFAU/crawlengine/internal/middleware/dedup"
	"github.com/JakeFAU/crawlengine/internal/middleware/policy"
	"github.com/JakeFAU/crawlengine/internal/middleware/ratelimit"
	"github.com/JakeFAU/crawlengine/internal/middleware/render"
	"github.com/JakeFAU/crawlengine/internal/middleware/retry"
	"github.com/JakeFAU/crawlengine/internal/middleware/robots"
	"github.com/JakeFAU/crawlengine/internal/pipeline/processors"
)

// RegisterBuiltins installs every middleware and processor shipped with the
// engine.
func RegisterBuiltins(r *Registry) error {
	mws := map[string]MiddlewareFactory{
		"headers":   newHeaders,
		"offsite":   newOffsite,
		"depth":     newDepth,
		"httperror": newHTTPError,
		"dedup":     newDedup,
		"ratelimit": newRateLimit,
		"robots":    newRobots,
		"retry":     newRetry,
		"render":    newRender,
	}
	procs := map[string]ProcessorFactory{
		"required":    newRequired,
		"trim":        newTrim,
		"dedupe":      newDedupe,
		"stamp":       newStamp,
		"fingerprint": newFingerprint,
	}
	var errs []error
	for name, f := range mws {
		errs = append(errs, r.RegisterMiddleware(name, f))
	}
	for name, f := range procs {
		errs = append(errs, r.RegisterProcessor(name, f))
	}
	return errors.Join(errs...)
}

// NewDefault returns a registry with the builtins installed.
func NewDefault() *Registry {
	r := New()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

func newHeaders(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	cfg.SetDefault("user_agent", deps.UserAgent)
	return policy.NewHeaders(cfg.GetString("user_agent"), cfg.GetStringMapString("headers")), nil
}

func newOffsite(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	allowed := cfg.GetStringSlice("allowed_domains")
	if len(allowed) == 0 {
		allowed = deps.AllowedDomains
	}
	return policy.NewOffsite(allowed, cfg.GetStringSlice("blocked"), deps.Logger.Named("offsite")), nil
}

func newDepth(cfg *viper.Viper, _ Deps) (crawler.Middleware, error) {
	cfg.SetDefault("max", 3)
	return policy.NewDepth(cfg.GetInt("max")), nil
}

func newHTTPError(cfg *viper.Viper, _ Deps) (crawler.Middleware, error) {
	return policy.NewHTTPError(cfg.GetIntSlice("allowed_statuses")), nil
}

func newDedup(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	def := dedup.DefaultConfig()
	cfg.SetDefault("expected_urls", def.ExpectedURLs)
	cfg.SetDefault("false_positive_rate", def.FalsePositiveRate)
	cfg.SetDefault("exact", def.Exact)
	return dedup.New(dedup.Config{
		ExpectedURLs:      cfg.GetUint("expected_urls"),
		FalsePositiveRate: cfg.GetFloat64("false_positive_rate"),
		Exact:             cfg.GetBool("exact"),
	}, deps.Logger.Named("dedup")), nil
}

func newRateLimit(cfg *viper.Viper, _ Deps) (crawler.Middleware, error) {
	cfg.SetDefault("rps", 1.0)
	cfg.SetDefault("burst", 1)
	perDomain, err := parsePerDomain(cfg.GetStringSlice("per_domain"))
	if err != nil {
		return nil, err
	}
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.GetFloat64("rps"),
		DefaultBurst: cfg.GetInt("burst"),
		PerDomainRPS: perDomain,
	}), nil
}

// parsePerDomain reads "host=rps" pairs. Hosts contain dots, which viper
// would otherwise treat as key separators.
func parsePerDomain(entries []string) (map[string]float64, error) {
	out := make(map[string]float64, len(entries))
	for _, entry := range entries {
		host, raw, ok := strings.Cut(entry, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		if !ok || host == "" {
			return nil, fmt.Errorf("per_domain entry %q: want host=rps", entry)
		}
		rps, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("per_domain entry %q: invalid rate", entry)
		}
		out[host] = rps
	}
	return out, nil
}

func newRobots(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	cfg.SetDefault("user_agent", deps.UserAgent)
	return robots.New(robots.Config{
		UserAgent: cfg.GetString("user_agent"),
		Timeout:   cfg.GetDuration("timeout"),
	}, deps.HTTPClient, deps.Logger.Named("robots")), nil
}

func newRetry(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	if deps.Queue == nil {
		return nil, errors.New("retry needs the run queue")
	}
	rc := retry.Config{
		MaxAttempts: cfg.GetInt("max_attempts"),
		BaseDelay:   cfg.GetDuration("base_delay"),
		MaxDelay:    cfg.GetDuration("max_delay"),
	}
	if cfg.IsSet("statuses") {
		rc.RetryStatuses = cfg.GetIntSlice("statuses")
	}
	mw, err := retry.New(rc, deps.Queue, deps.Clock, deps.Logger.Named("retry"))
	if err != nil {
		return nil, fmt.Errorf("build retry: %w", err)
	}
	return mw, nil
}

func newRender(cfg *viper.Viper, deps Deps) (crawler.Middleware, error) {
	if deps.Queue == nil {
		return nil, errors.New("render needs the run queue")
	}
	detector := render.NewDetector(cfg.GetInt("small_body"), cfg.GetInt("min_text"))
	mw, err := render.NewPromoter(detector, deps.Queue, deps.Logger.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("build render: %w", err)
	}
	return mw, nil
}

func newRequired(cfg *viper.Viper, _ Deps) (crawler.Processor, error) {
	cfg.SetDefault("fields", []string{"url"})
	return processors.NewRequired(cfg.GetStringSlice("fields")), nil
}

func newTrim(cfg *viper.Viper, _ Deps) (crawler.Processor, error) {
	return processors.NewTrim(cfg.GetBool("drop_empty")), nil
}

func newDedupe(cfg *viper.Viper, _ Deps) (crawler.Processor, error) {
	return processors.NewDedupe(cfg.GetString("field")), nil
}

func newStamp(_ *viper.Viper, deps Deps) (crawler.Processor, error) {
	if deps.Clock == nil {
		return nil, errors.New("stamp needs a clock")
	}
	return processors.NewStamp(deps.SpiderName, deps.Clock), nil
}

func newFingerprint(cfg *viper.Viper, deps Deps) (crawler.Processor, error) {
	hasher := deps.Hasher
	if salt := cfg.GetString("salt"); salt != "" {
		hasher = sha256.NewSalted(salt)
	}
	proc, err := processors.NewFingerprint(hasher)
	if err != nil {
		return nil, fmt.Errorf("build fingerprint: %w", err)
	}
	return proc, nil
}
