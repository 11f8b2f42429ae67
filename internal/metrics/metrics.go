// Package metrics exposes Prometheus collectors for the enrichment workers
// and the operator API.
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
	claimsTotal                *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         prometheus.Histogram
	jobsInFlight               prometheus.Gauge
	candidateFetchesTotal      *prometheus.CounterVec
	verificationScores         prometheus.Histogram
	fieldsUpdatedTotal         *prometheus.CounterVec
	leasesReapedTotal          prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbacksTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_claims_total",
				Help: "Claim attempts, labeled by result (job or empty).",
			},
			[]string{"result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_jobs_total",
				Help: "Jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_job_duration_seconds",
				Help:    "Wall time spent processing one job.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
		)

		jobsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_jobs_in_flight",
				Help: "Number of jobs currently being processed by this process.",
			},
		)

		candidateFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_candidate_fetches_total",
				Help: "Candidate website fetches, labeled by result and renderer.",
			},
			[]string{"result", "renderer"},
		)

		verificationScores = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_verification_score",
				Help:    "Confidence scores of fetched candidates.",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		)

		fieldsUpdatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_fields_updated_total",
				Help: "Entity fields filled by enrichment, labeled by field.",
			},
			[]string{"field"},
		)

		leasesReapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_leases_reaped_total",
				Help: "Processing jobs returned to the pool after their lease expired.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_robots_fallbacks_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
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
	Init()
	return promhttp.Handler()
}

// ObserveClaim counts a claim attempt.
func ObserveClaim(found bool) {
	Init()
	result := "empty"
	if found {
		result = "job"
	}
	claimsTotal.WithLabelValues(result).Inc()
}

// ObserveJob records the outcome and duration of one processed job.
func ObserveJob(outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.Observe(duration.Seconds())
}

// IncInFlight increments the in-flight jobs gauge.
func IncInFlight() {
	Init()
	jobsInFlight.Inc()
}

// DecInFlight decrements the in-flight jobs gauge.
func DecInFlight() {
	Init()
	jobsInFlight.Dec()
}

// ObserveCandidateFetch counts a candidate fetch. result is one of ok,
// http_error, transport_error or headless_error.
func ObserveCandidateFetch(result string, headless bool) {
	Init()
	renderer := "http"
	if headless {
		renderer = "headless"
	}
	candidateFetchesTotal.WithLabelValues(result, renderer).Inc()
}

// ObserveVerificationScore records one candidate score.
func ObserveVerificationScore(score int) {
	Init()
	verificationScores.Observe(float64(score))
}

// ObserveFieldsUpdated counts each filled field.
func ObserveFieldsUpdated(fields []string) {
	Init()
	for _, f := range fields {
		fieldsUpdatedTotal.WithLabelValues(f).Inc()
	}
}

// ObserveLeasesReaped adds n reaped leases.
func ObserveLeasesReaped(n int64) {
	Init()
	if n > 0 {
		leasesReapedTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbacksTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
