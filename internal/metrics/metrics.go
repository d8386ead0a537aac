// Package metrics exposes Prometheus metrics for the safetrack jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lcrostarosa/safetrack/internal/scheduler"
)

// Job Metrics
var (
	// JobTicksTotal tracks scheduled ticks by job and outcome (success/failure/skipped)
	JobTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_job_ticks_total",
			Help: "Total scheduled ticks by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	// JobTickDuration tracks tick latency in seconds
	JobTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safetrack_job_tick_duration_seconds",
			Help:    "Scheduled tick duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"job"},
	)

	// JobActive is 1 while a job's timer is armed
	JobActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safetrack_job_active",
			Help: "Whether a job's timer is armed (1) or not (0)",
		},
		[]string{"job"},
	)

	// SupervisorRunning is 1 while monitoring is active
	SupervisorRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safetrack_supervisor_running",
			Help: "Whether monitoring is active (1) or stopped (0)",
		},
	)
)

// Capture Metrics
var (
	// LocationsCaptured tracks fixes persisted to the location log
	LocationsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetrack_locations_captured_total",
			Help: "Total fixes appended to the location log",
		},
	)

	// CaptureErrors tracks failed captures by error kind
	CaptureErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_capture_errors_total",
			Help: "Failed captures by error kind",
		},
		[]string{"kind"},
	)

	// LocationsPruned tracks records removed by retention
	LocationsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetrack_locations_pruned_total",
			Help: "Total location records removed by retention pruning",
		},
	)
)

// Monitor Metrics
var (
	// InactivityHours is the elapsed time since the last app open seen by the latest check
	InactivityHours = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safetrack_inactivity_hours",
			Help: "Hours since the app was last opened, as of the latest check",
		},
	)

	// BreachesTotal tracks checks that found the threshold crossed
	BreachesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetrack_breaches_total",
			Help: "Total inactivity checks that found the threshold crossed",
		},
	)

	// AlertsTotal tracks alert dispatches by outcome (sent/failed/suppressed)
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_alerts_total",
			Help: "Alert dispatches by outcome",
		},
		[]string{"outcome"},
	)
)

// Control API Metrics
var (
	// RPCRequestsTotal tracks control API calls by procedure and connect code
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_rpc_requests_total",
			Help: "Control API requests by procedure and result code",
		},
		[]string{"procedure", "code"},
	)

	// RPCRequestDuration tracks control API latency in seconds
	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safetrack_rpc_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)
)

// TickCallbacks returns scheduler callbacks that record tick outcomes for job
func TickCallbacks(job string) *scheduler.Callbacks {
	return &scheduler.Callbacks{
		OnTickSuccess: func(r *scheduler.TickResult) {
			JobTicksTotal.WithLabelValues(job, "success").Inc()
			JobTickDuration.WithLabelValues(job).Observe(r.Duration().Seconds())
		},
		OnTickFailure: func(r *scheduler.TickResult) {
			JobTicksTotal.WithLabelValues(job, "failure").Inc()
			JobTickDuration.WithLabelValues(job).Observe(r.Duration().Seconds())
		},
		OnTickSkipped: func(r *scheduler.TickResult) {
			JobTicksTotal.WithLabelValues(job, "skipped").Inc()
		},
	}
}

// SetActive records whether job's timer is armed
func SetActive(job string, active bool) {
	JobActive.WithLabelValues(job).Set(boolToFloat(active))
}

// SetRunning records the supervisor state
func SetRunning(running bool) {
	SupervisorRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
