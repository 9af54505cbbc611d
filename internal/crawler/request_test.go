package crawler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequestValidatesURL(t *testing.T) {
	t.Parallel()

	req, err := NewRequest("", "https://example.com/a#frag", nil)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "https://example.com/a", req.URL)
	require.NotEmpty(t, req.ID)
	require.NotNil(t, req.Header)
	require.NotNil(t, req.Meta)

	for _, raw := range []string{"", "/relative", "ftp://example.com/file", "https://"} {
		_, err := NewRequest(http.MethodGet, raw, nil)
		require.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestMustRequestPanicsOnInvalidURL(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { MustRequest("not a url") })
}

func TestRequestFollowResolvesRelative(t *testing.T) {
	t.Parallel()

	parent := MustRequest("https://example.com/docs/index.html")
	parent.Depth = 2
	parent.Callback = func(_ context.Context, _ *Response) ([]ParseResult, error) { return nil, nil }

	child, err := parent.Follow("../about?b=2&a=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/about?b=2&a=1", child.URL)
	require.Equal(t, 3, child.Depth)
	require.NotNil(t, child.Callback)
	require.NotEqual(t, parent.ID, child.ID)
}

func TestResponseFollowUsesFinalURL(t *testing.T) {
	t.Parallel()

	req := MustRequest("https://example.com/start")
	resp := &Response{Request: req, URL: "https://www.example.com/moved/"}

	child, err := resp.Follow("next")
	require.NoError(t, err)
	require.Equal(t, "https://www.example.com/moved/next", child.URL)
	require.Equal(t, 1, child.Depth)

	_, err = resp.Follow("mailto:someone@example.com")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestRequestCloneIsDeep(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(http.MethodPost, "https://example.com/form", []byte("a=1"))
	require.NoError(t, err)
	req.Header.Set("X-Test", "one")
	req.SetMeta("attempt", 1)

	clone := req.Clone()
	clone.Header.Set("X-Test", "two")
	clone.Body[0] = 'b'
	clone.SetMeta("attempt", 2)

	require.Equal(t, req.ID, clone.ID)
	require.Equal(t, "one", req.Header.Get("X-Test"))
	require.Equal(t, "a=1", string(req.Body))
	require.Equal(t, 1, req.MetaInt("attempt"))
	require.Equal(t, 2, clone.MetaInt("attempt"))
}

func TestRequestHostAndMeta(t *testing.T) {
	t.Parallel()

	req := MustRequest("https://Example.COM:8443/path")
	require.Equal(t, "example.com", req.Host())

	_, ok := req.MetaValue("missing")
	require.False(t, ok)
	require.Zero(t, req.MetaInt("missing"))

	req.Meta = nil
	req.SetMeta("k", "v")
	v, ok := req.MetaValue("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.False(t, req.DontFilter())
	req.SetMeta(MetaDontFilter, "yes")
	require.False(t, req.DontFilter(), "only a bool true counts")
	req.SetMeta(MetaDontFilter, true)
	require.True(t, req.DontFilter())
	require.True(t, req.Clone().DontFilter())
}

func TestResponseContentType(t *testing.T) {
	t.Parallel()

	resp := &Response{Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}}}
	require.Equal(t, "text/html", resp.ContentType())
	require.True(t, resp.IsHTML())

	resp = &Response{Header: http.Header{"Content-Type": {"application/json"}}}
	require.False(t, resp.IsHTML())

	resp = &Response{Header: http.Header{}, Body: []byte("<!DOCTYPE html><html></html>")}
	require.True(t, resp.IsHTML())
}
