package crawler

import (
	"context"
	"time"
)

// ParseFunc turns a response into requests and items.
type ParseFunc func(ctx context.Context, resp *Response) ([]ParseResult, error)

// Spider supplies seeds and the default parse callback for one crawl.
type Spider interface {
	Name() string
	StartRequests(ctx context.Context) ([]*Request, error)
	Parse(ctx context.Context, resp *Response) ([]ParseResult, error)
}

// MiddlewareDeclarer is implemented by spiders that name their middleware.
type MiddlewareDeclarer interface {
	Middleware() []string
}

// ProcessorDeclarer is implemented by spiders that name their item processors.
type ProcessorDeclarer interface {
	Processors() []string
}

// Queue stores pending requests between loop iterations.
//
// Enqueue hands the request to the queue and the queue hands it to whoever
// dequeues it. Middleware mutates dispatched requests, so a caller must not
// keep changing a request after enqueueing it, and anything that wants to send
// a request again enqueues a Clone.
type Queue interface {
	Enqueue(ctx context.Context, req *Request) error
	// DequeueBatch removes up to max requests in FIFO order; max <= 0 drains
	// everything currently queued.
	DequeueBatch(ctx context.Context, max int) ([]*Request, error)
	Empty() bool
	Len() int
}

// Transport performs the network fetch. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Middleware is a named interceptor. It takes part in the chain through any of
// RequestHook, ResponseHook and FailureHook.
type Middleware interface {
	Name() string
}

// RequestHook runs before send, in declared order.
type RequestHook interface {
	ProcessRequest(ctx context.Context, req *Request) (Step[*Request], error)
}

// ResponseHook runs after receive, in reverse declared order.
type ResponseHook interface {
	ProcessResponse(ctx context.Context, resp *Response) (Step[*Response], error)
}

// FailureHook is told about transport failures for requests it saw pre-send.
type FailureHook interface {
	ProcessFailure(ctx context.Context, req *Request, err error)
}

// Processor is one stage of the item pipeline.
type Processor interface {
	Name() string
	ProcessItem(ctx context.Context, item *Item) (Step[*Item], error)
}

// ItemSink receives items that survived the pipeline.
type ItemSink interface {
	Consume(ctx context.Context, item *Item) error
	Close(ctx context.Context) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
