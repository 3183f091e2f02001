package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployment_total",
			Help: "Total number of deployments by service and terminal status",
		},
		[]string{"service", "status"},
	)

	DeploymentErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployment_errors_total",
			Help: "Total number of deployment errors by service and error type",
		},
		[]string{"service", "error_type"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployment_duration_seconds",
			Help:    "Deployment duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "strategy"},
	)

	RollbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollback_total",
			Help: "Total number of rollback attempts by deployment and outcome",
		},
		[]string{"deployment_id", "success"},
	)

	// Rollout metrics
	RolloutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_duration_seconds",
			Help:    "Rollout duration in seconds by service, strategy and outcome",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
		[]string{"service", "strategy", "status"},
	)

	RolloutPhaseProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_phase_progress",
			Help: "Current traffic percentage of a rollout by phase",
		},
		[]string{"rollout_id", "phase"},
	)

	ActiveRollouts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchyard_active_rollouts",
			Help: "Number of rollouts currently executing",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_api_requests_total",
			Help: "Total number of API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DeploymentTotal)
	prometheus.MustRegister(DeploymentErrorsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RollbackTotal)
	prometheus.MustRegister(RolloutDuration)
	prometheus.MustRegister(RolloutPhaseProgress)
	prometheus.MustRegister(ActiveRollouts)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
