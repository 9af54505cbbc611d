package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerFetchesTotal == nil || crawlerBytesTotal == nil || crawlerItemsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveFetch("https://init-test.com/page", "200", 512)
	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("init-test.com", "200")); val != 1 {
		t.Errorf("Expected crawler_fetches_total to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("init-test.com")); val != 512 {
		t.Errorf("Expected crawler_bytes_total to be 512, got %f", val)
	}
}

func TestObserveEngineCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerErrorsTotal.WithLabelValues("parse"))
	ObserveError("parse")
	if val := testutil.ToFloat64(crawlerErrorsTotal.WithLabelValues("parse")); val != before+1 {
		t.Errorf("Expected crawler_errors_total{class=parse} to grow by 1, got %f", val-before)
	}

	IncInFlight()
	IncInFlight()
	DecInFlight()
	if val := testutil.ToFloat64(crawlerInFlightRequests); val < 1 {
		t.Errorf("Expected in-flight gauge to be at least 1, got %f", val)
	}
	DecInFlight()

	beforeItems := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("dropped"))
	ObserveItem("dropped")
	if val := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("dropped")); val != beforeItems+1 {
		t.Errorf("Expected crawler_items_total{outcome=dropped} to grow by 1, got %f", val-beforeItems)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
