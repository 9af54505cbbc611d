package crawler

// ResultKind tags the variant held by a ParseResult.
type ResultKind int

// ParseResult variants. The zero value is invalid.
const (
	ResultInvalid ResultKind = iota
	ResultRequest
	ResultItem
)

func (k ResultKind) String() string {
	switch k {
	case ResultRequest:
		return "request"
	case ResultItem:
		return "item"
	default:
		return "invalid"
	}
}

// ParseResult is either a request to crawl or an item to send down the
// pipeline. Build one with Follow or Yield.
type ParseResult struct {
	kind    ResultKind
	request *Request
	item    *Item
}

// Follow wraps a newly discovered request.
func Follow(req *Request) ParseResult {
	if req == nil {
		return ParseResult{}
	}
	return ParseResult{kind: ResultRequest, request: req}
}

// Yield wraps an extracted item.
func Yield(item *Item) ParseResult {
	if item == nil {
		return ParseResult{}
	}
	return ParseResult{kind: ResultItem, item: item}
}

// Kind returns the variant tag.
func (p ParseResult) Kind() ResultKind { return p.kind }

// Request returns the request variant.
func (p ParseResult) Request() (*Request, bool) {
	return p.request, p.kind == ResultRequest
}

// Item returns the item variant.
func (p ParseResult) Item() (*Item, bool) {
	return p.item, p.kind == ResultItem
}

// Step is the verdict of a middleware hook or item processor: either proceed
// with a (possibly replaced) value or drop it. Dropping is policy, not failure.
type Step[T any] struct {
	value   T
	dropped bool
	reason  string
}

// Proceed continues the chain with v.
func Proceed[T any](v T) Step[T] {
	return Step[T]{value: v}
}

// Drop stops the chain.
func Drop[T any](reason string) Step[T] {
	return Step[T]{dropped: true, reason: reason}
}

// Value returns the value carried by a Proceed step.
func (s Step[T]) Value() T { return s.value }

// Dropped reports whether the step is a drop verdict.
func (s Step[T]) Dropped() bool { return s.dropped }

// Reason returns the drop reason.
func (s Step[T]) Reason() string { return s.reason }
