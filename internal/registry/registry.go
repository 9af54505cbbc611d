// Package registry resolves the component names a spider declares into
// constructed middleware and item processors.
//
// Factories are plain functions registered by name; nothing is discovered by
// reflection. Resolution happens once, before the engine starts, and any
// failure is fatal to the run.
package registry

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Component kinds reported in ResolveError.
const (
	KindMiddleware = "middleware"
	KindProcessor  = "processor"
)

// Deps carries the shared collaborators factories may need.
type Deps struct {
	Logger         *zap.Logger
	Queue          crawler.Queue
	Clock          crawler.Clock
	Hasher         crawler.Hasher
	SpiderName     string
	UserAgent      string
	AllowedDomains []string
	HTTPClient     *http.Client
}

// MiddlewareFactory builds one middleware from its settings section.
type MiddlewareFactory func(cfg *viper.Viper, deps Deps) (crawler.Middleware, error)

// ProcessorFactory builds one item processor from its settings section.
type ProcessorFactory func(cfg *viper.Viper, deps Deps) (crawler.Processor, error)

// Registry maps names to factories. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	middleware map[string]MiddlewareFactory
	processors map[string]ProcessorFactory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		middleware: make(map[string]MiddlewareFactory),
		processors: make(map[string]ProcessorFactory),
	}
}

// RegisterMiddleware adds a middleware factory. Names must be unique.
func (r *Registry) RegisterMiddleware(name string, factory MiddlewareFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register middleware: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.middleware[name]; exists {
		return fmt.Errorf("register middleware %q: already registered", name)
	}
	r.middleware[name] = factory
	return nil
}

// RegisterProcessor adds a processor factory. Names must be unique.
func (r *Registry) RegisterProcessor(name string, factory ProcessorFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register processor: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[name]; exists {
		return fmt.Errorf("register processor %q: already registered", name)
	}
	r.processors[name] = factory
	return nil
}

// MiddlewareNames lists registered middleware, sorted.
func (r *Registry) MiddlewareNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.middleware))
}

// ProcessorNames lists registered processors, sorted.
func (r *Registry) ProcessorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.processors))
}

// Middleware builds the named middleware in order. Each factory receives the
// "middleware.<name>" section of settings (never nil).
func (r *Registry) Middleware(names []string, settings *viper.Viper, deps Deps) ([]crawler.Middleware, error) {
	deps = withDefaults(deps)
	out := make([]crawler.Middleware, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		factory, ok := r.middleware[name]
		r.mu.RUnlock()
		if !ok {
			return nil, &crawler.ResolveError{Kind: KindMiddleware, Name: name, Err: crawler.ErrUnknownComponent}
		}
		mw, err := factory(section(settings, "middleware."+name), deps)
		if err != nil {
			return nil, &crawler.ResolveError{Kind: KindMiddleware, Name: name, Err: err}
		}
		if mw == nil {
			return nil, &crawler.ResolveError{Kind: KindMiddleware, Name: name, Err: fmt.Errorf("factory returned nil")}
		}
		out = append(out, mw)
	}
	return out, nil
}

// Processors builds the named item processors in order. Each factory receives
// the "processors.<name>" section of settings (never nil).
func (r *Registry) Processors(names []string, settings *viper.Viper, deps Deps) ([]crawler.Processor, error) {
	deps = withDefaults(deps)
	out := make([]crawler.Processor, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		factory, ok := r.processors[name]
		r.mu.RUnlock()
		if !ok {
			return nil, &crawler.ResolveError{Kind: KindProcessor, Name: name, Err: crawler.ErrUnknownComponent}
		}
		proc, err := factory(section(settings, "processors."+name), deps)
		if err != nil {
			return nil, &crawler.ResolveError{Kind: KindProcessor, Name: name, Err: err}
		}
		if proc == nil {
			return nil, &crawler.ResolveError{Kind: KindProcessor, Name: name, Err: fmt.Errorf("factory returned nil")}
		}
		out = append(out, proc)
	}
	return out, nil
}

func section(settings *viper.Viper, key string) *viper.Viper {
	if settings != nil {
		if sub := settings.Sub(key); sub != nil {
			return sub
		}
	}
	return viper.New()
}

func withDefaults(deps Deps) Deps {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return deps
}
