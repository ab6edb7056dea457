// Package metrics exposes Prometheus counters for the client.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztavern_client_api_requests_total",
			Help: "Remote API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ztavern_client_api_request_duration_seconds",
			Help:    "Remote API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	guardDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztavern_client_guard_decisions_total",
			Help: "Route guard decisions by route and result",
		},
		[]string{"route", "result"},
	)

	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztavern_client_fallbacks_total",
			Help: "Reads answered from local fallback data",
		},
		[]string{"operation"},
	)

	recordingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztavern_client_recordings_total",
			Help: "Voice recording sessions by outcome",
		},
		[]string{"outcome"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			apiRequestsTotal,
			apiRequestDuration,
			guardDecisionsTotal,
			fallbacksTotal,
			recordingsTotal,
		)
	})
}

// Handler returns an HTTP handler for Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one remote call.
func RecordAPIRequest(endpoint, outcome string, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	apiRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordGuardDecision records one navigation decision.
func RecordGuardDecision(route, result string) {
	guardDecisionsTotal.WithLabelValues(route, result).Inc()
}

// RecordFallback records a read served from local data.
func RecordFallback(operation string) {
	fallbacksTotal.WithLabelValues(operation).Inc()
}

// RecordRecording records the end of a recording session.
func RecordRecording(outcome string) {
	recordingsTotal.WithLabelValues(outcome).Inc()
}
