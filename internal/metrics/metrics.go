package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_runs_total",
			Help: "Total number of dataset builds by trigger and final status",
		},
		[]string{"trigger", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataset_run_duration_seconds",
			Help:    "Dataset build duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"trigger"},
	)

	runsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataset_runs_in_progress",
			Help: "Number of dataset builds currently running in this process",
		},
	)

	// Stage metrics
	stageRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_stage_rows_total",
			Help: "Rows produced per pipeline stage",
		},
		[]string{"stage"},
	)

	historyTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataset_history_truncated_customers_total",
			Help: "Customers whose action history hit the length bound",
		},
	)

	// Sink metrics
	sinkWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataset_sink_write_duration_seconds",
			Help:    "Time spent writing partitions to a sink",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"sink"},
	)

	sinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_sink_failures_total",
			Help: "Failed partition writes per sink",
		},
		[]string{"sink"},
	)

	// Trigger metrics
	triggersConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_triggers_consumed_total",
			Help: "Build requests consumed from RabbitMQ by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRun records a finished run
func RecordRun(trigger, status string, duration time.Duration) {
	runsTotal.WithLabelValues(trigger, status).Inc()
	runDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func RunStarted()  { runsInProgress.Inc() }
func RunFinished() { runsInProgress.Dec() }

// RecordStageRows adds the number of rows a stage produced
func RecordStageRows(stage string, rows int) {
	stageRows.WithLabelValues(stage).Add(float64(rows))
}

func RecordHistoryTruncated(customers int) {
	historyTruncatedTotal.Add(float64(customers))
}

// RecordSinkWrite records a partition write to a sink
func RecordSinkWrite(sink string, duration time.Duration, err error) {
	sinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
	if err != nil {
		sinkFailuresTotal.WithLabelValues(sink).Inc()
	}
}

// RecordTriggerConsumed records how a build request message was handled
func RecordTriggerConsumed(outcome string) {
	triggersConsumedTotal.WithLabelValues(outcome).Inc()
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
