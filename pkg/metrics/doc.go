/*
Package metrics defines Switchyard's Prometheus metrics and health reporting.

All metrics are declared as package-level collectors and registered once in
init(). Handler exposes them on /metrics via promhttp.

The deployment and rollout series follow the platform's naming contract:

	deployment_total{service,status}
	deployment_errors_total{service,error_type}
	deployment_duration_seconds{service,strategy}
	rollback_total{deployment_id,success}
	rollout_duration_seconds{service,strategy,status}
	rollout_phase_progress{rollout_id,phase}

Timer is a small helper for observing durations into histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DeploymentDuration, service, strategy)

The package also tracks per-component health used by the /health and /ready
endpoints. Components register themselves at startup and update their status
as conditions change.
*/
package metrics
