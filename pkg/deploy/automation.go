package deploy

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/health"
	"github.com/opsline/switchyard/pkg/log"
	"github.com/opsline/switchyard/pkg/metrics"
	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/storage"
	"github.com/opsline/switchyard/pkg/tracing"
	"github.com/opsline/switchyard/pkg/types"
)

// Options carries the optional collaborators of an Automation.
type Options struct {
	Store   storage.Store     // durable history archive
	Broker  *events.Broker    // lifecycle event publishing
	Mesh    MeshRegistrar     // post-deploy service mesh registration
	Gateway GatewayConfigurer // post-deploy gateway route configuration
}

// Automation drives single deployments through a ContainerOrchestrator,
// records history, emits metrics, and runs post-deployment integration
// hooks. It is safe for concurrent use.
type Automation struct {
	orch    orchestrator.ContainerOrchestrator
	store   storage.Store
	broker  *events.Broker
	mesh    MeshRegistrar
	gateway GatewayConfigurer
	tracer  trace.Tracer
	logger  zerolog.Logger

	mu      sync.RWMutex
	history map[string]*types.DeploymentResult
}

// NewAutomation creates a deployment automation over the given orchestrator.
// When a store is configured, previously persisted history is loaded so
// rollback targets survive restarts.
func NewAutomation(orch orchestrator.ContainerOrchestrator, opts Options) *Automation {
	a := &Automation{
		orch:    orch,
		store:   opts.Store,
		broker:  opts.Broker,
		mesh:    opts.Mesh,
		gateway: opts.Gateway,
		tracer:  tracing.Tracer("switchyard/deploy"),
		logger:  log.WithComponent("deploy"),
		history: make(map[string]*types.DeploymentResult),
	}
	if a.mesh == nil {
		a.mesh = NoopMesh{}
	}
	if a.gateway == nil {
		a.gateway = NoopGateway{}
	}
	a.restoreHistory()
	return a
}

func (a *Automation) restoreHistory() {
	if a.store == nil {
		return
	}
	results, err := a.store.ListDeployments()
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to restore deployment history")
		return
	}
	a.mu.Lock()
	for _, r := range results {
		a.history[r.DeploymentID] = r
	}
	a.mu.Unlock()
	if len(results) > 0 {
		a.logger.Info().Int("deployments", len(results)).Msg("deployment history restored")
	}
}

// ValidateSpec checks a deployment spec before dispatch. Violations fail
// fast before any external call is made.
func ValidateSpec(spec *types.DeploymentSpec) error {
	if spec == nil {
		return types.NewValidationError("spec", "must not be nil")
	}
	if spec.ServiceName == "" {
		return types.NewValidationError("service_name", "must not be empty")
	}
	if spec.Image == "" {
		return types.NewValidationError("image", "must not be empty")
	}
	if spec.Tag == "" {
		return types.NewValidationError("tag", "must not be empty")
	}
	if spec.Replicas < 1 {
		return types.NewValidationError("replicas", "must be at least 1")
	}
	for _, hc := range spec.HealthChecks {
		if hc.Type != types.HealthCheckHTTP {
			continue
		}
		if err := health.ValidateEndpoint(hc.Endpoint); err != nil {
			return types.NewValidationError("health_checks", err.Error())
		}
	}
	return nil
}

// DeployService validates the spec, dispatches it through the orchestrator
// inside a traced span, records the result in history, and emits deployment
// metrics. Orchestrator errors propagate to the caller after the failure
// path metrics are recorded.
func (a *Automation) DeployService(ctx context.Context, spec *types.DeploymentSpec) (*types.DeploymentResult, error) {
	if err := ValidateSpec(spec); err != nil {
		metrics.DeploymentErrorsTotal.WithLabelValues(safeService(spec), "validation").Inc()
		return nil, err
	}
	spec = spec.Clone() // the spec is immutable once the deployment starts

	ctx, span := a.tracer.Start(ctx, "deploy_service", trace.WithAttributes(
		attribute.String("service", spec.ServiceName),
		attribute.String("strategy", string(spec.Strategy)),
		attribute.Int("replicas", spec.Replicas),
	))
	defer span.End()

	timer := metrics.NewTimer()
	start := time.Now()

	deploymentID, err := a.orch.Deploy(ctx, spec)
	if err != nil {
		result := &types.DeploymentResult{
			DeploymentID: deploymentID,
			ServiceName:  spec.ServiceName,
			Status:       types.DeploymentFailed,
			StartTime:    start,
			EndTime:      time.Now(),
			ErrorMessage: err.Error(),
		}
		if deploymentID != "" {
			result.Status = a.orch.GetDeploymentStatus(ctx, deploymentID)
			a.record(result)
		}

		metrics.DeploymentErrorsTotal.WithLabelValues(spec.ServiceName, "orchestrator").Inc()
		metrics.DeploymentTotal.WithLabelValues(spec.ServiceName, string(types.DeploymentFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.publish(events.EventDeploymentFailed, result, err.Error())
		a.logger.Error().Err(err).Str("service", spec.ServiceName).Msg("deployment failed")
		return result.Clone(), err
	}
	span.SetAttributes(attribute.String("deployment_id", deploymentID))

	status := a.orch.GetDeploymentStatus(ctx, deploymentID)
	result := &types.DeploymentResult{
		DeploymentID: deploymentID,
		ServiceName:  spec.ServiceName,
		Status:       status,
		StartTime:    start,
	}
	if status.Terminal() {
		result.EndTime = time.Now()
	}

	if status == types.DeploymentSucceeded {
		a.runIntegrationHooks(ctx, spec, deploymentID)
	}

	a.record(result)
	metrics.DeploymentTotal.WithLabelValues(spec.ServiceName, string(status)).Inc()
	if !result.EndTime.IsZero() {
		timer.ObserveDurationVec(metrics.DeploymentDuration, spec.ServiceName, string(spec.Strategy))
	}
	a.publish(events.EventDeploymentCreated, result, "deployment dispatched")
	if status == types.DeploymentSucceeded {
		a.publish(events.EventDeploymentSucceeded, result, "deployment succeeded")
	}

	a.logger.Info().
		Str("service", spec.ServiceName).
		Str("deployment_id", deploymentID).
		Str("status", string(status)).
		Msg("deployment dispatched")

	return result.Clone(), nil
}

// runIntegrationHooks registers the service with the mesh and configures
// gateway routes. Hook failures are logged, never fatal to the deployment.
func (a *Automation) runIntegrationHooks(ctx context.Context, spec *types.DeploymentSpec, deploymentID string) {
	if err := a.mesh.Register(ctx, spec.ServiceName, deploymentID); err != nil {
		a.logger.Warn().Err(err).
			Str("service", spec.ServiceName).
			Msg("service mesh registration failed")
	}
	if err := a.gateway.ConfigureRoutes(ctx, spec.ServiceName, spec.Ports); err != nil {
		a.logger.Warn().Err(err).
			Str("service", spec.ServiceName).
			Msg("gateway route configuration failed")
	}
}

// RollbackService restores the previous succeeded deployment of the service
// that owns deploymentID. The matching history entry is annotated with the
// rollback reason on success.
func (a *Automation) RollbackService(ctx context.Context, deploymentID, reason string) (bool, error) {
	ok, err := a.orch.Rollback(ctx, deploymentID)
	success := ok && err == nil
	metrics.RollbackTotal.WithLabelValues(deploymentID, strconv.FormatBool(success)).Inc()

	if err != nil {
		a.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("rollback failed")
		return false, err
	}
	if !ok {
		a.logger.Warn().Str("deployment_id", deploymentID).Msg("no rollback candidate found")
		return false, nil
	}

	a.mu.Lock()
	result, exists := a.history[deploymentID]
	if exists {
		result.Status = types.DeploymentRolledBack
		result.RollbackReason = reason
		if result.EndTime.IsZero() {
			result.EndTime = time.Now()
		}
	}
	a.mu.Unlock()
	if exists {
		a.persist(result)
		a.publish(events.EventDeploymentRolledBack, result, reason)
	}

	a.logger.Info().
		Str("deployment_id", deploymentID).
		Str("reason", reason).
		Msg("deployment rolled back")
	return true, nil
}

// GetDeploymentStatus returns a copy of the history entry for an id.
func (a *Automation) GetDeploymentStatus(deploymentID string) (*types.DeploymentResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result, ok := a.history[deploymentID]
	if !ok {
		return nil, false
	}
	return result.Clone(), true
}

// ListDeployments returns history entries matching the filter, sorted by
// start time descending and capped at filter.Limit when positive.
func (a *Automation) ListDeployments(filter types.DeploymentFilter) []*types.DeploymentResult {
	a.mu.RLock()
	results := make([]*types.DeploymentResult, 0, len(a.history))
	for _, r := range a.history {
		if filter.ServiceName != "" && r.ServiceName != filter.ServiceName {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		results = append(results, r.Clone())
	}
	a.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.After(results[j].StartTime)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

// record stores a result in memory and in the durable archive.
func (a *Automation) record(result *types.DeploymentResult) {
	a.mu.Lock()
	a.history[result.DeploymentID] = result
	a.mu.Unlock()
	a.persist(result)
}

func (a *Automation) persist(result *types.DeploymentResult) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveDeployment(result); err != nil {
		a.logger.Warn().Err(err).
			Str("deployment_id", result.DeploymentID).
			Msg("failed to persist deployment result")
	}
}

func (a *Automation) publish(eventType events.EventType, result *types.DeploymentResult, message string) {
	if a.broker == nil {
		return
	}
	a.broker.Publish(&events.Event{
		Type:         eventType,
		Service:      result.ServiceName,
		DeploymentID: result.DeploymentID,
		Message:      message,
	})
}

func safeService(spec *types.DeploymentSpec) string {
	if spec == nil || spec.ServiceName == "" {
		return "unknown"
	}
	return spec.ServiceName
}
