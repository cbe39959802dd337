// Package metrics exposes Prometheus collectors for the collector service.
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
	fetchTotal                   *prometheus.CounterVec
	fetchBytesTotal              *prometheus.CounterVec
	fetchRetriesTotal            *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	probeTLSHandshakeTimeoutsTot prometheus.Counter
	clientRenderedPagesTotal     *prometheus.CounterVec
	activeSourceJobs             prometheus.Gauge
	rateLimitDelaySeconds        *prometheus.HistogramVec
	streamMessagesTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_retries_total",
				Help: "Fetch attempts beyond the first, labeled by site.",
			},
			[]string{"site"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		probeTLSHandshakeTimeoutsTot = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		clientRenderedPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_client_rendered_pages_total",
				Help: "Pages that looked client-rendered and were extracted statically anyway.",
			},
			[]string{"site"},
		)

		activeSourceJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_source_jobs",
				Help: "Number of source jobs currently extracting.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_rate_limit_delay_seconds",
				Help:    "Histogram of per-host pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		streamMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_stream_messages_total",
				Help: "Progress stream messages written to clients, labeled by type.",
			},
			[]string{"type"},
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

// ObserveFetch records one fetch outcome ("ok", "error", or an HTTP class).
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry counts one retried fetch attempt.
func ObserveFetchRetry(site string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeoutsTot.Inc()
}

// ObserveClientRendered counts a page flagged as client-rendered.
func ObserveClientRendered(site string) {
	Init()
	clientRenderedPagesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// IncActiveJobs increments the active source jobs gauge.
func IncActiveJobs() {
	Init()
	activeSourceJobs.Inc()
}

// DecActiveJobs decrements the active source jobs gauge.
func DecActiveJobs() {
	Init()
	activeSourceJobs.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveStreamMessage counts one message delivered to a stream consumer.
func ObserveStreamMessage(msgType string) {
	Init()
	streamMessagesTotal.WithLabelValues(msgType).Inc()
}
