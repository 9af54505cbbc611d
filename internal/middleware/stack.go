package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// SendFunc performs the fetch at the centre of the stack.
type SendFunc func(ctx context.Context, req *crawler.Request) (*crawler.Response, error)

type layer struct {
	name     string
	request  crawler.RequestHook
	response crawler.ResponseHook
	failure  crawler.FailureHook
}

// Stack is an ordered, immutable list of middleware. It is safe for
// concurrent use as long as the middleware themselves are.
type Stack struct {
	layers []layer
}

// NewStack discovers the hooks of each middleware once. Nil entries are skipped.
func NewStack(mws ...crawler.Middleware) *Stack {
	s := &Stack{layers: make([]layer, 0, len(mws))}
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		l := layer{name: mw.Name()}
		l.request, _ = mw.(crawler.RequestHook)
		l.response, _ = mw.(crawler.ResponseHook)
		l.failure, _ = mw.(crawler.FailureHook)
		s.layers = append(s.layers, l)
	}
	return s
}

// Names returns the middleware names in declared order.
func (s *Stack) Names() []string {
	names := make([]string, len(s.layers))
	for i, l := range s.layers {
		names[i] = l.name
	}
	return names
}

// Len returns the number of middleware.
func (s *Stack) Len() int {
	return len(s.layers)
}

// Dispatch walks req through the request hooks, calls send at most once and
// walks the response back out through the response hooks. A dropped step
// means send was skipped or the response was vetoed. Hook failures come back
// as *crawler.MiddlewareError and send failures as *crawler.TransportError;
// failure hooks of every layer the request passed are told about the latter,
// innermost first.
func (s *Stack) Dispatch(
	ctx context.Context,
	req *crawler.Request,
	send SendFunc,
) (crawler.Step[*crawler.Response], error) {
	if req == nil {
		return crawler.Drop[*crawler.Response]("nil request"), errors.New("dispatch: nil request")
	}
	return s.walk(ctx, 0, req, send)
}

func (s *Stack) walk(
	ctx context.Context,
	i int,
	req *crawler.Request,
	send SendFunc,
) (crawler.Step[*crawler.Response], error) {
	if i == len(s.layers) {
		return s.send(ctx, req, send)
	}
	l := s.layers[i]

	if l.request != nil {
		step, err := l.request.ProcessRequest(ctx, req)
		if err != nil {
			return dropped(), middlewareError(l.name, crawler.PhaseRequest, req.URL, err)
		}
		if step.Dropped() {
			return crawler.Drop[*crawler.Response](dropReason(l.name, step.Reason())), nil
		}
		if step.Value() == nil {
			return dropped(), middlewareError(l.name, crawler.PhaseRequest, req.URL, errors.New("hook returned nil request"))
		}
		req = step.Value()
	}

	out, err := s.walk(ctx, i+1, req, send)
	if err != nil {
		var transportErr *crawler.TransportError
		if l.failure != nil && errors.As(err, &transportErr) {
			l.failure.ProcessFailure(ctx, req, transportErr)
		}
		return out, err
	}
	if out.Dropped() || l.response == nil {
		return out, nil
	}

	step, err := l.response.ProcessResponse(ctx, out.Value())
	if err != nil {
		return dropped(), middlewareError(l.name, crawler.PhaseResponse, req.URL, err)
	}
	if step.Dropped() {
		return crawler.Drop[*crawler.Response](dropReason(l.name, step.Reason())), nil
	}
	if step.Value() == nil {
		return dropped(), middlewareError(l.name, crawler.PhaseResponse, req.URL, errors.New("hook returned nil response"))
	}
	return step, nil
}

func (s *Stack) send(ctx context.Context, req *crawler.Request, send SendFunc) (crawler.Step[*crawler.Response], error) {
	resp, err := send(ctx, req)
	if err != nil {
		return dropped(), &crawler.TransportError{URL: req.URL, Err: err}
	}
	if resp == nil {
		return dropped(), &crawler.TransportError{URL: req.URL, Err: errors.New("transport returned nil response")}
	}
	if resp.Request == nil {
		resp.Request = req
	}
	return crawler.Proceed(resp), nil
}

func dropped() crawler.Step[*crawler.Response] {
	return crawler.Drop[*crawler.Response]("")
}

func dropReason(name, reason string) string {
	if reason == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, reason)
}

func middlewareError(name, phase, url string, err error) error {
	return &crawler.MiddlewareError{Middleware: name, Phase: phase, URL: url, Err: err}
}
