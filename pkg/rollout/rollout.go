package rollout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsline/switchyard/pkg/collector"
	"github.com/opsline/switchyard/pkg/deploy"
	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/flags"
	"github.com/opsline/switchyard/pkg/log"
	"github.com/opsline/switchyard/pkg/metrics"
	"github.com/opsline/switchyard/pkg/storage"
	"github.com/opsline/switchyard/pkg/tracing"
	"github.com/opsline/switchyard/pkg/traffic"
	"github.com/opsline/switchyard/pkg/types"
)

// defaultMonitorInterval spaces metric samples when the config leaves
// MonitorInterval unset.
const defaultMonitorInterval = time.Minute

// rollbackGrace bounds the compensating rollback, which runs on a fresh
// context because the rollout's own context may already be cancelled.
const rollbackGrace = 2 * time.Minute

// Deps are the collaborators a rollout Orchestrator drives.
type Deps struct {
	Automation *deploy.Automation
	Collector  collector.MetricsCollector
	Traffic    traffic.TrafficManager
	Flags      flags.FeatureFlagManager
	Store      storage.Store
	Broker     *events.Broker
}

// Orchestrator runs progressive rollouts. Each rollout executes on its own
// goroutine; the orchestrator keeps a registry of runs and hands out deep
// state snapshots to readers.
type Orchestrator struct {
	automation *deploy.Automation
	collector  collector.MetricsCollector
	traffic    traffic.TrafficManager
	flags      flags.FeatureFlagManager
	store      storage.Store
	broker     *events.Broker
	tracer     trace.Tracer
	logger     zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*run
}

// run is one in-flight rollout. Its state is guarded by mu; rolledBack
// guarantees the compensating rollback executes at most once even when the
// abort path races the rollout goroutine's own failure handling.
type run struct {
	mu     sync.Mutex
	state  *types.RolloutState
	cancel context.CancelFunc
	done   chan struct{}

	newLabel string
	oldLabel string

	rolledBack atomic.Bool
}

// NewOrchestrator creates a rollout orchestrator over the given collaborators.
// Automation, Collector and Traffic are required; Flags is required only for
// feature-flag rollouts, Store and Broker are optional.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		automation: deps.Automation,
		collector:  deps.Collector,
		traffic:    deps.Traffic,
		flags:      deps.Flags,
		store:      deps.Store,
		broker:     deps.Broker,
		tracer:     tracing.Tracer("switchyard/rollout"),
		logger:     log.WithComponent("rollout"),
		runs:       make(map[string]*run),
	}
}

// StartRollout validates the config, registers the rollout and spawns its
// goroutine. It returns the rollout id immediately; progress is observed via
// GetRolloutStatus.
func (o *Orchestrator) StartRollout(ctx context.Context, config types.RolloutConfig) (string, error) {
	applyConfigDefaults(&config)
	if err := o.validateConfig(&config); err != nil {
		return "", err
	}

	rolloutID := uuid.New().String()
	state := &types.RolloutState{
		RolloutID:     rolloutID,
		Config:        config,
		CurrentPhase:  types.PhaseInitializing,
		StartTime:     time.Now(),
		DeploymentIDs: make(map[string]string),
	}

	// The rollout outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		state:    state,
		cancel:   cancel,
		done:     make(chan struct{}),
		newLabel: config.Spec.VersionLabel(),
	}

	o.mu.Lock()
	o.runs[rolloutID] = r
	o.mu.Unlock()

	metrics.ActiveRollouts.Inc()
	o.publish(events.EventRolloutStarted, state, "rollout started")
	o.logger.Info().
		Str("rollout_id", rolloutID).
		Str("service", config.ServiceName).
		Str("strategy", string(config.Strategy)).
		Msg("rollout started")

	go o.executeRollout(runCtx, r)
	return rolloutID, nil
}

// GetRolloutStatus returns a deep snapshot of a rollout's state.
func (o *Orchestrator) GetRolloutStatus(rolloutID string) (*types.RolloutState, bool) {
	o.mu.RLock()
	r, ok := o.runs[rolloutID]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// ListActiveRollouts returns snapshots of every rollout not yet terminal.
func (o *Orchestrator) ListActiveRollouts() []*types.RolloutState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var active []*types.RolloutState
	for _, r := range o.runs {
		snap := r.snapshot()
		if !snap.CurrentPhase.Terminal() {
			active = append(active, snap)
		}
	}
	return active
}

// AbortRollout cancels a running rollout and synchronously runs the
// compensating rollback. Compensation always runs to completion regardless
// of where cancellation landed; the rollback itself executes at most once
// across the abort path and the rollout goroutine.
func (o *Orchestrator) AbortRollout(rolloutID, reason string) bool {
	o.mu.RLock()
	r, ok := o.runs[rolloutID]
	o.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	if r.state.CurrentPhase.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.state.Errors = append(r.state.Errors, "aborted: "+reason)
	r.mu.Unlock()

	r.cancel()
	o.publish(events.EventRolloutAborted, r.snapshot(), reason)
	o.rollbackRollout(r, "aborted: "+reason)

	// Wait for the rollout goroutine so terminal bookkeeping is finished
	// before the abort returns.
	<-r.done
	return true
}

func (o *Orchestrator) executeRollout(ctx context.Context, r *run) {
	defer close(r.done)
	defer metrics.ActiveRollouts.Dec()

	state := r.snapshot()
	ctx, span := o.tracer.Start(ctx, "execute_rollout", trace.WithAttributes(
		attribute.String("rollout_id", state.RolloutID),
		attribute.String("service", state.Config.ServiceName),
		attribute.String("strategy", string(state.Config.Strategy)),
	))
	defer span.End()

	timer := metrics.NewTimer()
	logger := o.logger.With().
		Str("rollout_id", state.RolloutID).
		Str("service", state.Config.ServiceName).
		Logger()

	// Deploy the new version. A failure here means no traffic was ever
	// shifted, so there is nothing to compensate.
	r.setPhase(types.PhaseDeploying)
	spec := state.Config.Spec
	result, err := o.automation.DeployService(ctx, &spec)
	if err != nil {
		r.appendError("deploy failed: " + err.Error())
		r.fail("deploy failed: " + err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.finishRollout(r, timer, false)
		logger.Error().Err(err).Msg("rollout deploy failed")
		return
	}
	span.SetAttributes(attribute.String("deployment_id", result.DeploymentID))

	r.mu.Lock()
	r.state.DeploymentIDs[r.newLabel] = result.DeploymentID
	r.mu.Unlock()
	r.oldLabel = o.currentVersionLabel(ctx, state.Config.ServiceName, r.newLabel)

	outcome := o.runStrategy(ctx, r)

	switch {
	case outcome.kind == outcomePromote:
		r.complete()
		o.finishRollout(r, timer, true)
		o.publish(events.EventRolloutCompleted, r.snapshot(), "rollout completed")
		logger.Info().Msg("rollout completed")

	case ctx.Err() != nil:
		// Aborted. The abort path owns the rollback and final phase.
		r.appendError("cancelled: " + ctx.Err().Error())
		o.finishRollout(r, timer, false)
		logger.Warn().Msg("rollout cancelled")

	default:
		r.appendError(outcome.reason)
		if r.config().AutoRollback {
			o.rollbackRollout(r, outcome.reason)
		} else {
			r.fail(outcome.reason)
		}
		o.finishRollout(r, timer, false)
		o.publish(events.EventRolloutFailed, r.snapshot(), outcome.reason)
		logger.Error().Str("reason", outcome.reason).Msg("rollout failed")
	}
}

func (o *Orchestrator) runStrategy(ctx context.Context, r *run) phaseOutcome {
	switch r.config().Strategy {
	case types.RolloutProgressive:
		return o.runProgressive(ctx, r)
	case types.RolloutCanary:
		return o.runCanary(ctx, r)
	case types.RolloutBlueGreen:
		return o.runBlueGreen(ctx, r)
	case types.RolloutABTest:
		return o.runABTest(ctx, r)
	case types.RolloutRing:
		return o.runRing(ctx, r)
	case types.RolloutFeatureFlag:
		return o.runFeatureFlag(ctx, r)
	default:
		return failOutcome(fmt.Sprintf("unknown strategy %q", r.config().Strategy))
	}
}

// rollbackRollout restores traffic to the old version, disables any feature
// flags in play, and rolls the new deployment back through the automation
// layer. It runs at most once per rollout, leaves the rollout in the failed
// phase, and is a no-op for rollouts that already reached a terminal phase.
func (o *Orchestrator) rollbackRollout(r *run, reason string) {
	if !r.rolledBack.CompareAndSwap(false, true) {
		return
	}

	// An abort can race the rollout goroutine finishing. Once the rollout is
	// terminal there is nothing to compensate; re-check under the run lock
	// before touching traffic or the deployment.
	r.mu.Lock()
	if r.state.CurrentPhase.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state.CurrentPhase = types.PhaseRollingBack
	r.state.RollbackReason = reason
	config := r.state.Config
	deploymentID := r.state.DeploymentIDs[r.newLabel]
	r.mu.Unlock()

	logger := o.logger.With().Str("rollout_id", r.snapshot().RolloutID).Logger()

	// The rollout context may already be cancelled; compensation gets a
	// fresh one so it always runs to completion.
	ctx, cancel := context.WithTimeout(context.Background(), rollbackGrace)
	defer cancel()

	if config.Strategy == types.RolloutFeatureFlag {
		for name := range config.FeatureFlags {
			if err := o.flags.DisableFlag(ctx, name); err != nil {
				logger.Warn().Err(err).Str("flag", name).Msg("failed to disable feature flag during rollback")
			}
		}
	} else if o.traffic != nil {
		weights := map[string]int{r.oldLabel: 100, r.newLabel: 0}
		if err := o.traffic.SetTrafficSplit(ctx, config.ServiceName, weights); err != nil {
			logger.Warn().Err(err).Msg("failed to restore traffic split during rollback")
		}
	}
	r.setTrafficPercentage(r.snapshot().PhaseIndex, 0)

	if deploymentID != "" {
		if _, err := o.automation.RollbackService(ctx, deploymentID, reason); err != nil {
			r.appendError("rollback failed: " + err.Error())
			logger.Error().Err(err).Msg("compensating rollback failed")
		}
	}

	r.fail(reason)
	snap := r.snapshot()
	if o.store != nil {
		if err := o.store.SaveRollout(snap); err != nil {
			logger.Warn().Err(err).Msg("failed to archive rollout state")
		}
	}
	o.publish(events.EventRolloutRolledBack, snap, reason)
	logger.Warn().Str("reason", reason).Msg("rollout rolled back")
}

// finishRollout records terminal metrics and archives the final state.
func (o *Orchestrator) finishRollout(r *run, timer *metrics.Timer, success bool) {
	snap := r.snapshot()
	status := "failure"
	if success {
		status = "success"
	}
	timer.ObserveDurationVec(metrics.RolloutDuration,
		snap.Config.ServiceName, string(snap.Config.Strategy), status)

	if o.store != nil {
		if err := o.store.SaveRollout(snap); err != nil {
			o.logger.Warn().Err(err).
				Str("rollout_id", snap.RolloutID).
				Msg("failed to archive rollout state")
		}
	}
}

// currentVersionLabel determines the label the incumbent version serves
// under, so splits can be expressed as old/new weights. A service with no
// prior split is labelled stable.
func (o *Orchestrator) currentVersionLabel(ctx context.Context, service, newLabel string) string {
	if o.traffic == nil {
		return "stable"
	}
	split, err := o.traffic.GetCurrentSplit(ctx, service)
	if err != nil {
		return "stable"
	}
	best, bestWeight := "", -1
	for label, weight := range split {
		if label != newLabel && weight > bestWeight {
			best, bestWeight = label, weight
		}
	}
	if best == "" {
		return "stable"
	}
	return best
}

func (o *Orchestrator) validateConfig(config *types.RolloutConfig) error {
	if config.ServiceName == "" {
		return types.NewValidationError("service_name", "must not be empty")
	}
	if err := deploy.ValidateSpec(&config.Spec); err != nil {
		return err
	}
	if config.Spec.ServiceName != config.ServiceName {
		return types.NewValidationError("service_name", "must match spec.service_name")
	}

	switch config.Strategy {
	case types.RolloutProgressive, types.RolloutRing:
		if len(config.Phases) == 0 {
			return types.NewValidationError("phases", "must not be empty")
		}
	case types.RolloutCanary, types.RolloutBlueGreen, types.RolloutABTest:
	case types.RolloutFeatureFlag:
		if len(config.Phases) == 0 {
			return types.NewValidationError("phases", "must not be empty")
		}
		if len(config.FeatureFlags) == 0 {
			return types.NewValidationError("feature_flags", "must name at least one flag")
		}
	default:
		return types.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", config.Strategy))
	}

	prev := 0
	for _, p := range config.Phases {
		if p < 1 || p > 100 {
			return types.NewValidationError("phases", fmt.Sprintf("percentage out of range: %d", p))
		}
		if p <= prev {
			return types.NewValidationError("phases", "percentages must be strictly ascending")
		}
		prev = p
	}

	switch config.MetricsPolicy {
	case types.MetricsFailOpen, types.MetricsFailClosed:
	default:
		return types.NewValidationError("metrics_policy", fmt.Sprintf("unknown policy %q", config.MetricsPolicy))
	}
	return nil
}

func applyConfigDefaults(config *types.RolloutConfig) {
	if config.ServiceName == "" {
		config.ServiceName = config.Spec.ServiceName
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = defaultMonitorInterval
	}
	if config.MetricsPolicy == "" {
		config.MetricsPolicy = types.MetricsFailOpen
	}
	if thresholdsUnset(config.Thresholds) {
		config.Thresholds = types.DefaultRolloutMetrics()
	}
	if config.Strategy == types.RolloutCanary && len(config.Phases) == 0 {
		config.Phases = []int{5}
	}
}

func thresholdsUnset(t types.RolloutMetrics) bool {
	return t.ErrorRateThreshold == 0 &&
		t.ResponseTimeP95Threshold == 0 &&
		t.SuccessRateThreshold == 0 &&
		t.CPUThreshold == 0 &&
		t.MemoryThreshold == 0 &&
		len(t.CustomMetrics) == 0
}

func (o *Orchestrator) publish(eventType events.EventType, state *types.RolloutState, message string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{
		Type:      eventType,
		Service:   state.Config.ServiceName,
		RolloutID: state.RolloutID,
		Message:   message,
	})
}

// run accessors. All state reads and writes go through these so the
// goroutine, the abort path, and API readers never race.

func (r *run) snapshot() *types.RolloutState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

func (r *run) config() types.RolloutConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Config
}

func (r *run) setPhase(phase types.RolloutPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CurrentPhase.Terminal() {
		return
	}
	r.state.CurrentPhase = phase
}

func (r *run) setTrafficPercentage(phaseIndex, pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.PhaseIndex = phaseIndex
	r.state.CurrentTrafficPercentage = pct
}

func (r *run) appendError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Errors = append(r.state.Errors, msg)
}

func (r *run) appendSnapshot(snap types.MetricsSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.MetricsHistory = append(r.state.MetricsHistory, snap)
}

func (r *run) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CurrentPhase.Terminal() {
		return
	}
	r.state.CurrentPhase = types.PhaseCompleted
	r.state.EndTime = time.Now()
}

func (r *run) fail(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.CurrentPhase.Terminal() {
		return
	}
	r.state.CurrentPhase = types.PhaseFailed
	if r.state.RollbackReason == "" {
		r.state.RollbackReason = reason
	}
	if r.state.EndTime.IsZero() {
		r.state.EndTime = time.Now()
	}
}
