package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_store_queries_total",
			Help: "Total number of store operations by operation",
		},
		[]string{"operation"},
	)

	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_store_errors_total",
			Help: "Total number of failed store operations by operation",
		},
		[]string{"operation"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketindexor_store_query_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	skippedWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_store_skipped_writes_total",
			Help: "Writes that changed no row (duplicates, stale events, missing rows)",
		},
		[]string{"operation"},
	)
)

// observe records an operation and returns a function that finalizes it with its error.
func observe(operation string) func(error) {
	start := time.Now()
	queries.WithLabelValues(operation).Inc()

	return func(err error) {
		queryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			queryErrors.WithLabelValues(operation).Inc()
		}
	}
}

func SkippedWriteInc(operation string) {
	skippedWrites.WithLabelValues(operation).Inc()
}
