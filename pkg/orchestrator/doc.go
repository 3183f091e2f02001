/*
Package orchestrator defines the ContainerOrchestrator contract the rollout
engine deploys through, and the built-in local driver.

The engine never imports a concrete platform; New selects a driver by name
from configuration and everything above it programs against the interface.
Contract points the drivers must honor:

  - Deploy records a failed result before propagating an error, so a failed
    attempt stays queryable by id.
  - GetDeploymentStatus reports failed for unknown ids instead of erroring;
    a lookup miss is treated as the fail-safe default.
  - Rollback restores the most recent succeeded deployment of the same
    service (excluding the given id) and reports false when none exists.
  - Scale is best effort and never returns an error.

The local driver keeps all state in memory and is used for development and
as the reference implementation in tests. Platform drivers (Kubernetes,
Docker) are maintained out of tree.
*/
package orchestrator
