package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeEmpty   = "empty"
	OutcomePanic   = "panic"

	EventApplied   = "applied"
	EventDegraded  = "degraded"
	EventMalformed = "malformed"
	EventIgnored   = "ignored"
	EventFailed    = "failed"
)

var (
	// Poll loop metrics
	cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_poll_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketindexor_poll_cycle_duration_seconds",
			Help:    "Time taken to fetch and process one batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	lastSuccessfulCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexor_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last cycle that advanced the checkpoint",
		},
	)

	eventSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexor_checkpoint_event_seq",
			Help: "Number of events processed as recorded in the cursor state",
		},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketindexor_batch_events",
			Help:    "Number of events returned per fetch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
	)

	// Projection metrics
	events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexor_events_total",
			Help: "Total number of events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// System metrics
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexor_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketindexor_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexor_goroutines",
			Help: "Number of active goroutines",
		},
	)

	memoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketindexor_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func CycleInc(outcome string) {
	cycles.WithLabelValues(outcome).Inc()
}

func CycleDurationLog(duration time.Duration) {
	cycleDuration.Observe(duration.Seconds())
}

func LastSuccessfulCycleLog() {
	lastSuccessfulCycle.Set(float64(time.Now().UTC().Unix()))
}

func EventSeqLog(seq uint64) {
	eventSeq.Set(float64(seq))
}

func BatchSizeLog(n int) {
	batchSize.Observe(float64(n))
}

func EventInc(kind, outcome string) {
	events.WithLabelValues(kind, outcome).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	componentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
