package storage

import (
	"github.com/opsline/switchyard/pkg/types"
)

// Store persists deployment history and finished rollouts across restarts.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Deployments
	SaveDeployment(result *types.DeploymentResult) error
	GetDeployment(id string) (*types.DeploymentResult, error)
	ListDeployments() ([]*types.DeploymentResult, error)

	// Rollouts
	SaveRollout(state *types.RolloutState) error
	GetRollout(id string) (*types.RolloutState, error)
	ListRollouts() ([]*types.RolloutState, error)

	// Utility
	Close() error
}
