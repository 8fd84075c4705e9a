package metrics

import (
	"BarBridge/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetchesTotal    *prometheus.CounterVec
	chunkAttempts   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	rowsReturned    prometheus.Histogram
	gateWait        prometheus.Histogram
	connectionState *prometheus.GaugeVec
	breakerOpen     prometheus.Gauge
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barbridge_fetches_total",
				Help: "Total historical fetch requests by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		chunkAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barbridge_chunk_attempts_total",
				Help: "Total chunk attempts by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barbridge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		rowsReturned: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "barbridge_rows_returned",
				Help:    "Rows returned per fetch",
				Buckets: []float64{0, 10, 100, 300, 1000, 5000, 20000, 100000},
			},
		),
		gateWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "barbridge_gate_wait_seconds",
				Help:    "Time spent waiting for a request gate slot",
				Buckets: prometheus.DefBuckets,
			},
		),
		connectionState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barbridge_connection_state",
				Help: "Current connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		breakerOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "barbridge_breaker_open",
				Help: "1 when the circuit breaker is open",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barbridge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFetch counts a completed fetch request.
func (r *Recorder) RecordFetch(symbol, outcome string) {
	r.fetchesTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordChunkAttempt counts one chunk attempt outcome.
func (r *Recorder) RecordChunkAttempt(outcome string) {
	r.chunkAttempts.WithLabelValues(outcome).Inc()
}

// RecordRows observes the row count of a fetch result.
func (r *Recorder) RecordRows(n int) {
	r.rowsReturned.Observe(float64(n))
}

// RecordGateWait observes time spent queued at the request gate.
func (r *Recorder) RecordGateWait(seconds float64) {
	r.gateWait.Observe(seconds)
}

// RecordConnectionState marks the active connection state.
func (r *Recorder) RecordConnectionState(state models.ConnectionState) {
	for _, s := range []models.ConnectionState{
		models.StateDisconnected,
		models.StateConnecting,
		models.StateConnected,
		models.StateDegraded,
		models.StateShuttingDown,
	} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordBreakerState marks the circuit breaker state.
func (r *Recorder) RecordBreakerState(open bool) {
	if open {
		r.breakerOpen.Set(1)
	} else {
		r.breakerOpen.Set(0)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
