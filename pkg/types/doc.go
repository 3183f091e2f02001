/*
Package types defines the core data structures used throughout Switchyard.

This package contains the fundamental types of the deployment and rollout
domain model: deployment specs, deployment results, rollout configurations,
SLO thresholds, metrics snapshots, and rollout state. These types are used by
all other packages for state management, API payloads, and orchestration
logic.

# Core Types

DeploymentSpec describes one version of a service to deploy: image, tag,
replicas, strategy, resource limits, environment, health checks, volumes,
ports, and metadata. A spec is immutable once a deployment starts.

DeploymentResult captures the outcome of a single deployment attempt. The
orchestrator driver creates it; only the automation layer mutates it, and
every terminal result is retained in append-only history.

RolloutConfig wraps a DeploymentSpec with a rollout strategy (progressive,
canary, blue_green, a_b_test, ring, feature_flag), the phase schedule of
target traffic percentages, monitoring durations, and RolloutMetrics
thresholds used to gate promotion.

RolloutState is the full state of one rollout: current phase, traffic
percentage, deployment ids per version label, metrics history, and recorded
errors. It is owned exclusively by the rollout's goroutine; external readers
receive deep copies produced by Clone.

# Conventions

All enum-like values are string-typed constants so they serialize cleanly to
JSON and YAML. Collectors report metric values under the Metric* key
constants; RolloutMetrics thresholds compare against those keys.
*/
package types
