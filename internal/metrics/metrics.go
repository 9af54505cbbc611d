// Package metrics exposes Prometheus collectors for the crawl engine and its
// ops server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerErrorsTotal            *prometheus.CounterVec
	crawlerBatchSize              prometheus.Histogram
	crawlerInFlightRequests       prometheus.Gauge
	crawlerRetriesTotal           prometheus.Counter
	crawlerRobotsFailuresTotal    prometheus.Counter
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of transport calls, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Items leaving the pipeline, labeled by outcome (delivered, dropped, error).",
			},
			[]string{"outcome"},
		)

		crawlerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_errors_total",
				Help: "Isolated per-request failures, labeled by error class.",
			},
			[]string{"class"},
		)

		crawlerBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_size",
				Help:    "Number of requests dequeued per engine loop iteration.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		crawlerInFlightRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_inflight_requests",
				Help: "Number of request tasks currently executing.",
			},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Requests re-enqueued by the retry middleware.",
			},
		)

		crawlerRobotsFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_failures_total",
				Help: "robots.txt fetches that failed and fell back to allow-all.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The Observe helpers are no-ops until Init runs so library code can record
// unconditionally.

// ObserveFetch records one transport call.
func ObserveFetch(site string, status string, bytesFetched int) {
	if crawlerFetchesTotal == nil {
		return
	}
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveItem records an item outcome.
func ObserveItem(outcome string) {
	if crawlerItemsTotal == nil {
		return
	}
	crawlerItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveError records an isolated failure by class.
func ObserveError(class string) {
	if crawlerErrorsTotal == nil {
		return
	}
	crawlerErrorsTotal.WithLabelValues(class).Inc()
}

// ObserveBatch records the size of a dequeued batch.
func ObserveBatch(size int) {
	if crawlerBatchSize == nil {
		return
	}
	crawlerBatchSize.Observe(float64(size))
}

// IncInFlight increments the in-flight gauge.
func IncInFlight() {
	if crawlerInFlightRequests == nil {
		return
	}
	crawlerInFlightRequests.Inc()
}

// DecInFlight decrements the in-flight gauge.
func DecInFlight() {
	if crawlerInFlightRequests == nil {
		return
	}
	crawlerInFlightRequests.Dec()
}

// ObserveRetry counts a retry re-enqueue.
func ObserveRetry() {
	if crawlerRetriesTotal == nil {
		return
	}
	crawlerRetriesTotal.Inc()
}

// ObserveRobotsFailure counts a robots.txt fetch failure.
func ObserveRobotsFailure() {
	if crawlerRobotsFailuresTotal == nil {
		return
	}
	crawlerRobotsFailuresTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if crawlerRateLimitDelaysSeconds == nil {
		return
	}
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
