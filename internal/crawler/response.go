package crawler

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// Response is the result of a completed fetch. It is read-only once built.
type Response struct {
	Request    *Request
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Follow resolves href against the final response URL, falling back to the
// request URL when the transport did not report one.
func (r *Response) Follow(href string) (*Request, error) {
	base := r.URL
	if base == "" {
		base = r.Request.URL
	}
	return follow(r.Request, base, href)
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
	}
	return mediaType
}

// IsHTML reports whether the response declares or sniffs as HTML.
func (r *Response) IsHTML() bool {
	switch r.ContentType() {
	case "text/html", "application/xhtml+xml":
		return true
	case "":
		return strings.HasPrefix(http.DetectContentType(r.Body), "text/html")
	default:
		return false
	}
}
