package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

func TestEnforcerHonorsDisallow(t *testing.T) {
	t.Parallel()

	var robotsHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	enforcer := New(Config{UserAgent: "test-agent"}, srv.Client(), zap.NewNop())
	ctx := context.Background()

	step, err := enforcer.ProcessRequest(ctx, crawler.MustRequest(srv.URL+"/allowed"))
	require.NoError(t, err)
	require.False(t, step.Dropped())

	step, err = enforcer.ProcessRequest(ctx, crawler.MustRequest(srv.URL+"/blocked/page"))
	require.NoError(t, err)
	require.True(t, step.Dropped())

	require.Equal(t, int64(1), robotsHits.Load(), "robots.txt is cached per host")
}

func TestEnforcerMissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	enforcer := New(Config{UserAgent: "test-agent"}, nil, nil)
	require.True(t, enforcer.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestRetryingTransportFallsBackToAllowAll(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
	}}
	rt := &retryingTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, allowAllBody, string(body))
	require.Equal(t, 4, base.calls)
}

func TestRetryingTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: httptest.NewRecorder().Result()},
	}}
	rt := &retryingTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond}}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)
}

func TestRetryingTransportNonTransient(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	base := &stubRoundTripper{results: []roundTripResult{{err: refused}}}
	rt := &retryingTransport{base: base, backoff: defaultBackoff}

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, base.calls)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
