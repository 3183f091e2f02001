package orchestrator

import (
	"context"
	"fmt"

	"github.com/opsline/switchyard/pkg/types"
)

// ContainerOrchestrator abstracts the container platform that deployments
// run on. Concrete drivers (Kubernetes, Docker) live outside the engine;
// the in-tree "local" driver simulates the platform in process.
type ContainerOrchestrator interface {
	// Deploy provisions resources for the spec and returns a unique
	// deployment id. On internal failure the driver records a failed
	// result before returning the error, so the id remains queryable.
	Deploy(ctx context.Context, spec *types.DeploymentSpec) (string, error)

	// GetDeploymentStatus returns the status for a deployment id. Unknown
	// ids report DeploymentFailed rather than an error; a lookup miss must
	// never crash a rollout.
	GetDeploymentStatus(ctx context.Context, deploymentID string) types.DeploymentStatus

	// Rollback restores the most recent succeeded deployment of the same
	// service, excluding the given id. Returns false when no restore
	// candidate exists.
	Rollback(ctx context.Context, deploymentID string) (bool, error)

	// Scale adjusts the replica count for a service. Best effort: returns
	// false on failure, never an error.
	Scale(ctx context.Context, serviceName string, replicas int) bool
}

// OrchestratorError wraps a failure reported by the underlying platform.
type OrchestratorError struct {
	Op      string // "deploy", "rollback", "scale"
	Service string
	Err     error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator %s failed for service %q: %v", e.Op, e.Service, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// Config selects and configures the orchestrator driver.
type Config struct {
	Driver string `yaml:"driver"` // "local"
}

// New constructs the orchestrator driver named in cfg. The engine only ever
// sees the ContainerOrchestrator interface returned here.
func New(cfg Config) (ContainerOrchestrator, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown orchestrator driver %q", cfg.Driver)
	}
}
