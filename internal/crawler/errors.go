package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrInvalidURL       = errors.New("invalid url")
	ErrQueueClosed      = errors.New("queue closed")
)

// Error classes. Classify never returns ClassPanic; recovered panics are
// tagged by the engine.
const (
	ClassTransport  = "transport"
	ClassMiddleware = "middleware"
	ClassParse      = "parse"
	ClassPipeline   = "pipeline"
	ClassResolve    = "resolve"
	ClassPanic      = "panic"
	ClassOther      = "other"
)

// TransportError wraps a failed fetch.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Middleware phases.
const (
	PhaseRequest  = "request"
	PhaseResponse = "response"
)

// MiddlewareError wraps an error returned by a middleware hook.
type MiddlewareError struct {
	Middleware string
	Phase      string
	URL        string
	Err        error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %s (%s) %s: %v", e.Middleware, e.Phase, e.URL, e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

// ParseError wraps a parse callback failure. Results produced before the
// failure are discarded.
type ParseError struct {
	Spider string
	URL    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s: %v", e.Spider, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PipelineError wraps an item processor or sink failure.
type PipelineError struct {
	Processor string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Processor, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ResolveError is returned when a declared component cannot be constructed.
// It is fatal to the run.
type ResolveError struct {
	Kind string
	Name string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Classify maps err onto one of the Class* constants.
func Classify(err error) string {
	var (
		transportErr  *TransportError
		middlewareErr *MiddlewareError
		parseErr      *ParseError
		pipelineErr   *PipelineError
		resolveErr    *ResolveError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &middlewareErr):
		return ClassMiddleware
	case errors.As(err, &transportErr):
		return ClassTransport
	case errors.As(err, &parseErr):
		return ClassParse
	case errors.As(err, &pipelineErr):
		return ClassPipeline
	case errors.As(err, &resolveErr):
		return ClassResolve
	default:
		return ClassOther
	}
}
