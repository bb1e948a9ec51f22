// Package observability exposes Prometheus metrics shared by both services.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	findResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "find_results_total",
			Help: "Metadata lookups by outcome.",
		},
		[]string{"outcome"},
	)

	contentReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_reads_total",
			Help: "Content reads by outcome.",
		},
		[]string{"outcome", "region"},
	)

	indexOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_op_duration_seconds",
			Help:    "Duration of metadata index operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "outcome"},
	)

	regionUploadDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "region_upload_duration_seconds",
			Help:    "Duration of per-region content uploads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"region", "outcome"},
	)

	populateRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "populate_runs_total",
			Help: "Population runs by outcome.",
		},
		[]string{"outcome"},
	)

	queuePublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_publish_total",
			Help: "Delivery-queue publish attempts by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version", "service"},
	)
)

// Populate run outcomes.
const (
	PopulateCommitted = "committed"
	PopulateDuplicate = "duplicate"
	PopulateFailed    = "failed"
	PopulateDropped   = "dropped"
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncFind(outcome string) {
	findResultsTotal.WithLabelValues(outcome).Inc()
}

func IncContentRead(outcome, region string) {
	contentReadsTotal.WithLabelValues(outcome, region).Inc()
}

func ObserveIndexOp(op string, err error, durationSeconds float64) {
	indexOpDurationSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

func ObserveRegionUpload(region string, err error, durationSeconds float64) {
	regionUploadDurationSeconds.WithLabelValues(region, outcome(err)).Observe(durationSeconds)
}

func IncPopulateRun(result string) {
	populateRunsTotal.WithLabelValues(result).Inc()
}

func IncQueuePublish(err error) {
	queuePublishTotal.WithLabelValues(outcome(err)).Inc()
}

func ExposeBuildInfo(version, service string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version, service).Set(1)
}

// Handler serves the default registry, including go and process collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
