package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opsline/switchyard/pkg/log"
	"github.com/opsline/switchyard/pkg/types"
)

// FailDeployLabel forces the local driver to fail a deployment. Used to
// exercise failure paths in development and tests.
const FailDeployLabel = "dev.switchyard.io/fail-deploy"

// Local is an in-process orchestrator driver. It fulfils the full
// ContainerOrchestrator contract against in-memory state and is the default
// driver for development and tests.
type Local struct {
	mu       sync.RWMutex
	results  map[string]*types.DeploymentResult
	specs    map[string]*types.DeploymentSpec // deployment id -> spec
	replicas map[string]int                   // service name -> replicas
	logger   zerolog.Logger
}

// NewLocal creates a local in-process orchestrator.
func NewLocal() *Local {
	return &Local{
		results:  make(map[string]*types.DeploymentResult),
		specs:    make(map[string]*types.DeploymentSpec),
		replicas: make(map[string]int),
		logger:   log.WithComponent("orchestrator.local"),
	}
}

// Deploy provisions the spec in memory. The result is recorded before any
// error is returned so the id stays queryable on failure.
func (l *Local) Deploy(ctx context.Context, spec *types.DeploymentSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := time.Now()

	result := &types.DeploymentResult{
		DeploymentID: id,
		ServiceName:  spec.ServiceName,
		Status:       types.DeploymentInProgress,
		StartTime:    now,
	}

	l.mu.Lock()
	l.results[id] = result
	l.specs[id] = spec.Clone()
	l.mu.Unlock()

	if spec.Labels[FailDeployLabel] == "true" {
		err := errors.New("deploy failure injected by " + FailDeployLabel)
		l.mu.Lock()
		result.Status = types.DeploymentFailed
		result.ErrorMessage = err.Error()
		result.EndTime = time.Now()
		l.mu.Unlock()
		return id, &OrchestratorError{Op: "deploy", Service: spec.ServiceName, Err: err}
	}

	l.mu.Lock()
	result.Status = types.DeploymentSucceeded
	result.EndTime = time.Now()
	l.replicas[spec.ServiceName] = spec.Replicas
	l.mu.Unlock()

	l.logger.Info().
		Str("service", spec.ServiceName).
		Str("deployment_id", id).
		Str("image", spec.Image+":"+spec.Tag).
		Int("replicas", spec.Replicas).
		Msg("deployment provisioned")

	return id, nil
}

// GetDeploymentStatus returns the recorded status, or DeploymentFailed for
// unknown ids.
func (l *Local) GetDeploymentStatus(ctx context.Context, deploymentID string) types.DeploymentStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result, ok := l.results[deploymentID]
	if !ok {
		return types.DeploymentFailed
	}
	return result.Status
}

// GetDeployment returns a copy of the driver's result for a deployment id.
func (l *Local) GetDeployment(deploymentID string) (*types.DeploymentResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result, ok := l.results[deploymentID]
	if !ok {
		return nil, false
	}
	return result.Clone(), true
}

// Rollback restores the most recent succeeded deployment of the same
// service, excluding the given id.
func (l *Local) Rollback(ctx context.Context, deploymentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.results[deploymentID]
	if !ok {
		return false, nil
	}

	var candidates []*types.DeploymentResult
	for id, r := range l.results {
		if id == deploymentID {
			continue
		}
		if r.ServiceName == current.ServiceName && r.Status == types.DeploymentSucceeded {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartTime.After(candidates[j].StartTime)
	})
	restored := candidates[0]

	current.Status = types.DeploymentRolledBack
	current.EndTime = time.Now()
	if spec, ok := l.specs[restored.DeploymentID]; ok {
		l.replicas[spec.ServiceName] = spec.Replicas
	}

	l.logger.Info().
		Str("service", current.ServiceName).
		Str("deployment_id", deploymentID).
		Str("restored_deployment_id", restored.DeploymentID).
		Msg("deployment rolled back")

	return true, nil
}

// Scale sets the replica count for a known service.
func (l *Local) Scale(ctx context.Context, serviceName string, replicas int) bool {
	if ctx.Err() != nil || replicas < 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.replicas[serviceName]; !ok {
		return false
	}
	l.replicas[serviceName] = replicas
	return true
}

// Replicas reports the current replica count for a service.
func (l *Local) Replicas(serviceName string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.replicas[serviceName]
	return n, ok
}
