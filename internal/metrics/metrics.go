// Package metrics exposes Prometheus collectors for the inspiration service.
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

// Submission outcomes recorded by ObserveSubmission.
const (
	SubmissionCacheHit         = "cache_hit"
	SubmissionAccepted         = "accepted"
	SubmissionDuplicate        = "duplicate"
	SubmissionRejected         = "rejected"
	SubmissionEnqueueFailed    = "enqueue_failed"
	SubmissionStoreUnavailable = "store_error"
)

// Search paths recorded by ObserveSearch.
const (
	SearchVector     = "vector"
	SearchFilterOnly = "filter_only"
	SearchFallback   = "fallback"
	SearchFailed     = "failed"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsTotal           *prometheus.CounterVec
	admissionRejectionsTotal   *prometheus.CounterVec
	jobsFinishedTotal          *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	embeddingRequestsTotal     *prometheus.CounterVec
	embeddingDurationSeconds   prometheus.Histogram
	workerFetchesTotal         *prometheus.CounterVec
	workerActive               prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_analyze_submissions_total",
				Help: "Analyze submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		admissionRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_admission_rejections_total",
				Help: "URLs rejected at admission, labeled by reason.",
			},
			[]string{"reason"},
		)

		jobsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_jobs_finished_total",
				Help: "Analysis jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_search_requests_total",
				Help: "Search requests, labeled by the path that served them.",
			},
			[]string{"path"},
		)

		embeddingRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_embedding_requests_total",
				Help: "Embedding lookups, labeled by result (hit, miss, shared, error).",
			},
			[]string{"result"},
		)

		embeddingDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insfound_embedding_duration_seconds",
				Help:    "Latency of embedding backend calls.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		workerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insfound_worker_fetches_total",
				Help: "Pages fetched by the development worker, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		workerActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "insfound_worker_active",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insfound_worker_ratelimit_delay_seconds",
				Help:    "Time the worker waited on the per-domain rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts an analyze submission outcome.
func ObserveSubmission(outcome string) {
	Init()
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAdmissionRejection counts a rejected URL.
func ObserveAdmissionRejection(reason string) {
	Init()
	admissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveJobFinished counts a job reaching status.
func ObserveJobFinished(status string) {
	Init()
	jobsFinishedTotal.WithLabelValues(status).Inc()
}

// ObserveSearch counts a search served by path.
func ObserveSearch(path string) {
	Init()
	searchRequestsTotal.WithLabelValues(path).Inc()
}

// ObserveEmbedding counts an embedding lookup result.
func ObserveEmbedding(result string) {
	Init()
	embeddingRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveEmbeddingLatency records a backend call duration.
func ObserveEmbeddingLatency(duration time.Duration) {
	Init()
	embeddingDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch increments the worker fetch counter.
func ObserveFetch(site string, status string) {
	Init()
	workerFetchesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	workerActive.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	workerActive.Dec()
}

// ObserveRateLimitDelay records time spent waiting on the per-domain limiter.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
