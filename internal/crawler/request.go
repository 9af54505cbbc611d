package crawler

import (
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// MetaDontFilter marks a request that duplicate filters must let through.
// Middleware that puts a copy of an already seen request back on the queue
// sets it.
const MetaDontFilter = "dont_filter"

// Request describes one outbound fetch. Once enqueued only middleware touches
// Meta and Header; everything else is treated as read-only.
type Request struct {
	ID       string
	URL      string
	Method   string
	Header   http.Header
	Body     []byte
	Callback ParseFunc
	Meta     map[string]any
	Depth    int
}

// NewRequest validates rawURL and builds a request with a fresh v7 ID.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	parsed, err := parseAbsolute(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:     newRequestID(),
		URL:    parsed.String(),
		Method: strings.ToUpper(method),
		Header: make(http.Header),
		Body:   body,
		Meta:   make(map[string]any),
	}, nil
}

// MustRequest is NewRequest for GET requests that panics on an invalid URL.
// It is meant for static seeds and tests.
func MustRequest(rawURL string) *Request {
	req, err := NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		panic(err)
	}
	return req
}

// Follow builds a GET request for href resolved against this request's URL.
// The child is one level deeper and inherits the callback.
func (r *Request) Follow(href string) (*Request, error) {
	return follow(r, r.URL, href)
}

// Clone returns a deep copy that keeps the ID.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Header = r.Header.Clone()
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	if r.Body != nil {
		clone.Body = bytes.Clone(r.Body)
	}
	clone.Meta = make(map[string]any, len(r.Meta))
	maps.Copy(clone.Meta, r.Meta)
	return &clone
}

// Host returns the lower-cased host of the request URL, or "" when unparsable.
func (r *Request) Host() string {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// SetMeta stores a metadata value, allocating the bag when needed.
func (r *Request) SetMeta(key string, value any) {
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	r.Meta[key] = value
}

// MetaValue returns a metadata value.
func (r *Request) MetaValue(key string) (any, bool) {
	v, ok := r.Meta[key]
	return v, ok
}

// DontFilter reports whether MetaDontFilter is set to true.
func (r *Request) DontFilter() bool {
	v, _ := r.Meta[MetaDontFilter].(bool)
	return v
}

// MetaInt returns an integer metadata value or 0.
func (r *Request) MetaInt(key string) int {
	v, ok := r.Meta[key]
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

func follow(parent *Request, base, href string) (*Request, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("%w: href %q: %v", ErrInvalidURL, href, err)
	}
	child, err := NewRequest(http.MethodGet, baseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	child.Depth = parent.Depth + 1
	child.Callback = parent.Callback
	return child, nil
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, rawURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidURL, rawURL)
	}
	parsed.Fragment = ""
	return parsed, nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
