// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeStoreHit  = "store_hit"
	OutcomeIngested  = "ingested"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
	OutcomeUnhealthy = "store_unavailable"
	OutcomeInvalid   = "invalid"
)

var (
	ingestionsTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	cacheRequestsTotal         *prometheus.CounterVec
	storeConnectAttemptsTotal  *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		ingestionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_ingestions_total",
				Help: "Page document requests, labeled by how they were served.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insights_fetch_duration_seconds",
				Help:    "Latency of page fetches, labeled by fetch mode and result.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30, 45},
			},
			[]string{"mode", "result"},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_cache_requests_total",
				Help: "Document cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		storeConnectAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_store_connect_attempts_total",
				Help: "Store connection attempts, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insights_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host fetch limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngestion counts one page-document request by outcome.
func ObserveIngestion(outcome string) {
	ingestionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a fetch latency. mode is "plain" or "headless".
func ObserveFetch(mode string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	fetchDurationSeconds.WithLabelValues(mode, result).Observe(d.Seconds())
}

// ObserveCache counts a cache lookup.
func ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// StoreConnectHook returns an attempt hook for the given backend.
func StoreConnectHook(backend string) func(error) {
	return func(err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		storeConnectAttemptsTotal.WithLabelValues(backend, result).Inc()
	}
}

// ObserveRateLimitDelay records a limiter wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
