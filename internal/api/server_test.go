package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/engine"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/progress"
)

type fakeRun struct {
	id    uuid.UUID
	stats engine.Stats
}

func (f fakeRun) RunID() uuid.UUID    { return f.id }
func (f fakeRun) Stats() engine.Stats { return f.stats }

type fakeEvents struct {
	events    []progress.Event
	lastStage progress.Stage
	lastLimit int
}

func (f *fakeEvents) Events(stage progress.Stage, limit int) []progress.Event {
	f.lastStage = stage
	f.lastLimit = limit
	return f.events
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	s.SetState(StateRunning)
	rec = serve(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"running"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	t.Parallel()

	run := fakeRun{
		id:    uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		stats: engine.Stats{Seeds: 1, Dispatched: 3, Errors: map[string]int64{"transport": 1}},
	}
	s := NewServer(run, nil, nil)
	s.SetState(StateDone)

	rec := serve(t, s, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var body statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, run.id.String(), body.RunID)
	require.Equal(t, StateDone, body.State)
	require.EqualValues(t, 3, body.Stats.Dispatched)
	require.EqualValues(t, 1, body.Stats.Errors["transport"])

	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(nil, nil, nil), "/v1/stats").Code)
}

func TestEvents(t *testing.T) {
	t.Parallel()

	src := &fakeEvents{events: []progress.Event{{
		Stage: progress.StageFetchDone,
		URL:   "https://example.com/",
		Site:  "example.com",
		Dur:   1500 * time.Millisecond,
	}}}
	s := NewServer(nil, src, nil)

	rec := serve(t, s, "/v1/events?stage=fetch_done&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, progress.StageFetchDone, src.lastStage)
	require.Equal(t, maxEventLimit, src.lastLimit)
	require.Contains(t, rec.Body.String(), `"duration_ms":1500`)

	serve(t, s, "/v1/events")
	require.Equal(t, defaultEventLimit, src.lastLimit)
	require.Empty(t, src.lastStage)

	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/events?limit=-1").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/events?stage=NOPE").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(nil, nil, nil), "/v1/events").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	s := NewServer(nil, nil, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil, nil).Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
