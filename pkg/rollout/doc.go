// Package rollout implements the progressive rollout state machine. An
// Orchestrator runs each rollout on its own goroutine, shifting traffic
// through the configured strategy while validating service metrics against
// SLO thresholds, and compensates failures and aborts with an automatic
// rollback to the incumbent version.
package rollout
