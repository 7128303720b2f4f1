// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Total fetches executed, labeled by mode (headless/probe) and outcome class.",
		},
		[]string{"mode", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of fetch latencies, labeled by mode.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	sessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_sessions_live",
			Help: "Number of live browser sessions owned by the pool.",
		},
	)

	sessionSpawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_session_spawns_total",
			Help: "Total browser session spawn attempts, labeled by result.",
		},
		[]string{"result"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total pages fetched, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Total body bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_cache_lookups_total",
			Help: "Total result cache lookups, labeled by outcome (hit/miss/stale).",
		},
		[]string{"outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Total jobs reaching a terminal state, labeled by status.",
		},
		[]string{"status"},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_jobs_in_flight",
			Help: "Number of jobs currently executing the fetch+extract pipeline.",
		},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total retry attempts scheduled, labeled by failure class.",
		},
		[]string{"class"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests served by the API, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of API request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite extracts a lowercase hostname from a raw URL, or "unknown".
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

// ObserveFetch records one fetch attempt.
func ObserveFetch(mode, outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(mode, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveSessionSpawn records a spawn attempt result ("ok" or "error").
func ObserveSessionSpawn(result string) {
	sessionSpawnsTotal.WithLabelValues(result).Inc()
}

// SetSessionsLive tracks the pool's live session count.
func SetSessionsLive(n int) {
	sessionsLive.Set(float64(n))
}

// ObservePage records one fetched page against its site.
func ObservePage(site, outcome string, bodyBytes int) {
	sanitized := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bodyBytes > 0 {
		bytesTotal.WithLabelValues(sanitized).Add(float64(bodyBytes))
	}
}

// ObserveCacheLookup records a cache lookup outcome.
func ObserveCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob records a job terminal state.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncJobsInFlight increments the in-flight gauge.
func IncJobsInFlight() {
	jobsInFlight.Inc()
}

// DecJobsInFlight decrements the in-flight gauge.
func DecJobsInFlight() {
	jobsInFlight.Dec()
}

// ObserveRetry records a scheduled retry for the given failure class.
func ObserveRetry(class string) {
	retriesTotal.WithLabelValues(class).Inc()
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
