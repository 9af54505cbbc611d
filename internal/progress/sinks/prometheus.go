package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlengine/internal/progress"
)

// PrometheusSink exports run progress via Prometheus: runs started, finished
// and running, per-site fetch counters, drops by stage and items by outcome.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished prometheus.Counter
	runsRunning  prometheus.Gauge
	runDuration  prometheus.Histogram

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	drops         *prometheus.CounterVec
	items         *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total engine runs that have started.",
		}),
		runsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_finished_total",
			Help: "Total engine runs that drained their queue or were canceled.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Current number of running engine runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Failed request tasks partitioned by site and error class.",
		}, []string{"site", "error_class"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_drops_total",
			Help: "Requests and responses dropped by middleware, by stage.",
		}, []string{"stage"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pipeline_items_total",
			Help: "Items leaving the pipeline, by stage.",
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.fetchErrors,
		s.drops,
		s.items,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsFinished.Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageFetchError, progress.StageParseError:
		s.fetchErrors.WithLabelValues(siteLabel(evt.Site), evt.ErrorClass).Inc()
	case progress.StageRequestDropped, progress.StageResponseDropped:
		s.drops.WithLabelValues(string(evt.Stage)).Inc()
	case progress.StageItemScraped, progress.StageItemDropped, progress.StageItemError:
		s.items.WithLabelValues(string(evt.Stage)).Inc()
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := siteLabel(evt.Site)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
