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

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	backendFetchesTotal        *prometheus.CounterVec
	backendFetchDuration       *prometheus.HistogramVec
	eventsSavedTotal           *prometheus.CounterVec
	fieldMismatchesTotal       *prometheus.CounterVec
	malformedBatchesTotal      *prometheus.CounterVec
	skippedRecordsTotal        *prometheus.CounterVec
	retentionDeletedTotal      prometheus.Counter
	cyclesInFlight             prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times. Observe* helpers are
// no-ops until Init has run.
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 60, 600, 3600},
			},
			[]string{"method", "route"},
		)
		backendFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_backend_fetches_total",
				Help: "Backend scrape calls, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)
		backendFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingestor_backend_fetch_duration_seconds",
				Help:    "Wall time of backend scrape calls.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"backend"},
		)
		eventsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_events_saved_total",
				Help: "Canonical events persisted, labeled by source.",
			},
			[]string{"source"},
		)
		fieldMismatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_field_mismatches_total",
				Help: "Raw fields dropped to null because of an unexpected type.",
			},
			[]string{"field"},
		)
		malformedBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_malformed_batches_total",
				Help: "Backend payloads that could not be decoded as a JSON array.",
			},
			[]string{"backend"},
		)
		skippedRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_skipped_records_total",
				Help: "Batch elements skipped because they were not JSON objects.",
			},
			[]string{"backend"},
		)
		retentionDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingestor_retention_deleted_total",
				Help: "Events removed by the retention job.",
			},
		)
		cyclesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingestor_cycles_in_flight",
				Help: "Scrape cycles currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBackendFetch records one backend call.
func ObserveBackendFetch(backend string, ok bool, duration time.Duration) {
	if backendFetchesTotal == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	backendFetchesTotal.WithLabelValues(backend, result).Inc()
	backendFetchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveEventsSaved adds n persisted events for source.
func ObserveEventsSaved(source string, n int) {
	if eventsSavedTotal == nil || n <= 0 {
		return
	}
	eventsSavedTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveFieldMismatch counts a raw field dropped to null.
func ObserveFieldMismatch(field string) {
	if fieldMismatchesTotal == nil {
		return
	}
	fieldMismatchesTotal.WithLabelValues(field).Inc()
}

// ObserveMalformedBatch counts an undecodable backend payload.
func ObserveMalformedBatch(backend string) {
	if malformedBatchesTotal == nil {
		return
	}
	malformedBatchesTotal.WithLabelValues(backend).Inc()
}

// ObserveSkippedRecord counts a batch element that was not an object.
func ObserveSkippedRecord(backend string) {
	if skippedRecordsTotal == nil {
		return
	}
	skippedRecordsTotal.WithLabelValues(backend).Inc()
}

// ObserveRetentionDeleted adds n events removed by retention.
func ObserveRetentionDeleted(n int64) {
	if retentionDeletedTotal == nil || n <= 0 {
		return
	}
	retentionDeletedTotal.Add(float64(n))
}

// IncCyclesInFlight marks a cycle as started.
func IncCyclesInFlight() {
	if cyclesInFlight == nil {
		return
	}
	cyclesInFlight.Inc()
}

// DecCyclesInFlight marks a cycle as finished.
func DecCyclesInFlight() {
	if cyclesInFlight == nil {
		return
	}
	cyclesInFlight.Dec()
}
