package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source request metrics, shared by the REST and JSON-RPC transports
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_source_requests_total",
			Help: "Total number of source requests by method",
		},
		[]string{"method"},
	)

	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_source_errors_total",
			Help: "Total number of source request errors by method and type",
		},
		[]string{"method", "error_type"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketindexor_source_request_duration_seconds",
			Help:    "Duration of source requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_source_retries_total",
			Help: "Total number of retried source requests by method",
		},
		[]string{"method"},
	)
)

func MethodInc(method string) {
	requests.WithLabelValues(method).Inc()
}

func MethodDuration(method string, duration time.Duration) {
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func MethodError(method, errorType string) {
	requestErrors.WithLabelValues(method, errorType).Inc()
}

func RetryInc(method string) {
	retries.WithLabelValues(method).Inc()
}
