package rollout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/switchyard/pkg/collector"
	"github.com/opsline/switchyard/pkg/deploy"
	"github.com/opsline/switchyard/pkg/flags"
	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/traffic"
	"github.com/opsline/switchyard/pkg/types"
)

// countingOrchestrator counts Rollback calls on top of the local driver.
type countingOrchestrator struct {
	*orchestrator.Local
	rollbacks atomic.Int32
}

func (c *countingOrchestrator) Rollback(ctx context.Context, deploymentID string) (bool, error) {
	c.rollbacks.Add(1)
	return c.Local.Rollback(ctx, deploymentID)
}

func testConfig(strategy types.RolloutStrategy) types.RolloutConfig {
	return types.RolloutConfig{
		Strategy:    strategy,
		ServiceName: "billing-api",
		Spec: types.DeploymentSpec{
			ServiceName: "billing-api",
			Image:       "registry.local/billing-api",
			Tag:         "2.0.0",
			Replicas:    2,
		},
		Phases:       []int{10, 50, 100},
		AutoPromote:  true,
		AutoRollback: true,
	}
}

func newTestOrchestrator(orch orchestrator.ContainerOrchestrator, col collector.MetricsCollector, fl flags.FeatureFlagManager) (*Orchestrator, *traffic.SplitTable) {
	split := traffic.NewSplitTable()
	auto := deploy.NewAutomation(orch, deploy.Options{})
	o := NewOrchestrator(Deps{
		Automation: auto,
		Collector:  col,
		Traffic:    split,
		Flags:      fl,
	})
	return o, split
}

func waitForTerminal(t *testing.T, o *Orchestrator, rolloutID string) *types.RolloutState {
	t.Helper()
	var state *types.RolloutState
	require.Eventually(t, func() bool {
		s, ok := o.GetRolloutStatus(rolloutID)
		if !ok {
			return false
		}
		state = s
		return s.CurrentPhase.Terminal()
	}, 5*time.Second, 5*time.Millisecond, "rollout did not reach a terminal phase")
	return state
}

func TestProgressiveRolloutCompletesAtFullTraffic(t *testing.T) {
	o, split := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	id, err := o.StartRollout(context.Background(), testConfig(types.RolloutProgressive))
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)
	assert.Empty(t, state.Errors)
	assert.False(t, state.EndTime.IsZero())
	assert.GreaterOrEqual(t, len(state.MetricsHistory), 3, "one snapshot per phase")

	weights, err := split.GetCurrentSplit(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Equal(t, 100, weights["v2.0.0"])
}

func TestProgressiveRolloutRollsBackOnThresholdBreach(t *testing.T) {
	col := collector.NewStatic()
	col.SetProfile("billing-api", "v2.0.0", map[string]float64{
		types.MetricErrorRate:       0.25,
		types.MetricResponseTimeP95: 120,
		types.MetricSuccessRate:     0.75,
	})
	counting := &countingOrchestrator{Local: orchestrator.NewLocal()}
	o, _ := newTestOrchestrator(counting, col, nil)

	id, err := o.StartRollout(context.Background(), testConfig(types.RolloutProgressive))
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
	assert.NotEmpty(t, state.Errors)
	assert.Contains(t, state.RollbackReason, "error_rate")
	assert.Equal(t, int32(1), counting.rollbacks.Load())
}

func TestCanaryPromotesToFullTraffic(t *testing.T) {
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutCanary)
	config.Phases = []int{10}

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)
}

func TestBlueGreenFailedHealthValidationShiftsNoTraffic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	o, split := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutBlueGreen)
	config.Phases = nil
	config.Spec.HealthChecks = []types.HealthCheck{
		{Type: types.HealthCheckHTTP, Endpoint: server.URL},
	}
	config.AutoRollback = false

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
	assert.Equal(t, 0, state.CurrentTrafficPercentage)

	weights, err := split.GetCurrentSplit(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Empty(t, weights, "no traffic split should ever have been programmed")
}

func TestBlueGreenSwitchesAfterHealthValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	o, split := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutBlueGreen)
	config.Phases = nil
	config.Spec.HealthChecks = []types.HealthCheck{
		{Type: types.HealthCheckHTTP, Endpoint: server.URL},
	}

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)

	weights, err := split.GetCurrentSplit(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Equal(t, 100, weights["v2.0.0"])
}

func TestABTestPromotesWinningNewVersion(t *testing.T) {
	col := collector.NewStatic()
	col.SetProfile("billing-api", "v2.0.0", map[string]float64{
		types.MetricErrorRate:       0.01,
		types.MetricResponseTimeP95: 150,
	})
	col.SetProfile("billing-api", "stable", map[string]float64{
		types.MetricErrorRate:       0.02,
		types.MetricResponseTimeP95: 200,
	})
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), col, nil)

	config := testConfig(types.RolloutABTest)
	config.Phases = nil

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)
}

func TestABTestRollsBackWhenIncumbentWins(t *testing.T) {
	col := collector.NewStatic()
	col.SetProfile("billing-api", "v2.0.0", map[string]float64{
		types.MetricErrorRate:       0.01,
		types.MetricResponseTimeP95: 250, // worse latency than the incumbent
	})
	col.SetProfile("billing-api", "stable", map[string]float64{
		types.MetricErrorRate:       0.02,
		types.MetricResponseTimeP95: 200,
	})
	counting := &countingOrchestrator{Local: orchestrator.NewLocal()}
	o, _ := newTestOrchestrator(counting, col, nil)

	config := testConfig(types.RolloutABTest)
	config.Phases = nil

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
	assert.Contains(t, state.RollbackReason, "incumbent version wins")
	assert.Equal(t, int32(1), counting.rollbacks.Load())
}

func TestAbortRollsBackExactlyOnce(t *testing.T) {
	counting := &countingOrchestrator{Local: orchestrator.NewLocal()}
	o, _ := newTestOrchestrator(counting, collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutProgressive)
	config.ValidationDuration = time.Hour // keeps the rollout in its monitoring window

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, ok := o.GetRolloutStatus(id)
		return ok && len(state.MetricsHistory) > 0
	}, 5*time.Second, 5*time.Millisecond, "rollout never reached its monitoring window")

	assert.True(t, o.AbortRollout(id, "operator abort"))

	state, ok := o.GetRolloutStatus(id)
	require.True(t, ok)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
	assert.Contains(t, state.RollbackReason, "operator abort")
	assert.Equal(t, int32(1), counting.rollbacks.Load())

	// A second abort on a terminal rollout is rejected and rolls back nothing.
	assert.False(t, o.AbortRollout(id, "again"))
	assert.Equal(t, int32(1), counting.rollbacks.Load())
}

func TestRollbackAfterCompletionIsNoOp(t *testing.T) {
	counting := &countingOrchestrator{Local: orchestrator.NewLocal()}
	o, split := newTestOrchestrator(counting, collector.NewStaticPassing(), nil)

	id, err := o.StartRollout(context.Background(), testConfig(types.RolloutProgressive))
	require.NoError(t, err)
	waitForTerminal(t, o, id)

	o.mu.RLock()
	r := o.runs[id]
	o.mu.RUnlock()
	require.NotNil(t, r)

	// An abort can lose the race with the rollout goroutine finishing.
	// Compensation arriving after completion must not touch anything.
	o.rollbackRollout(r, "late abort")

	state, ok := o.GetRolloutStatus(id)
	require.True(t, ok)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Empty(t, state.RollbackReason)
	assert.Equal(t, int32(0), counting.rollbacks.Load())

	weights, err := split.GetCurrentSplit(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Equal(t, 100, weights["v2.0.0"], "completed rollout keeps full traffic on the new version")
}

func TestFeatureFlagRolloutDisablesFlagsOnRollback(t *testing.T) {
	col := collector.NewStatic()
	col.SetProfile("billing-api", "v2.0.0", map[string]float64{
		types.MetricErrorRate: 0.5,
	})
	registry := flags.NewRegistry()
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), col, registry)

	config := testConfig(types.RolloutFeatureFlag)
	config.FeatureFlags = map[string]string{"billing-new-ui": "beta-customers"}

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)

	status, err := registry.GetFlagStatus(context.Background(), "billing-new-ui")
	require.NoError(t, err)
	assert.False(t, status.Enabled, "flag must be disabled before rollback")
}

func TestFeatureFlagRolloutEnablesFlagPerPhase(t *testing.T) {
	registry := flags.NewRegistry()
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), registry)

	config := testConfig(types.RolloutFeatureFlag)
	config.FeatureFlags = map[string]string{"billing-new-ui": ""}

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)

	status, err := registry.GetFlagStatus(context.Background(), "billing-new-ui")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, 100, status.Percentage)
}

func TestMetricsPolicyDecidesEmptySnapshots(t *testing.T) {
	t.Run("fail open completes", func(t *testing.T) {
		o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStatic(), nil)

		config := testConfig(types.RolloutProgressive)
		config.MetricsPolicy = types.MetricsFailOpen

		id, err := o.StartRollout(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, types.PhaseCompleted, waitForTerminal(t, o, id).CurrentPhase)
	})

	t.Run("fail closed fails", func(t *testing.T) {
		o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStatic(), nil)

		config := testConfig(types.RolloutProgressive)
		config.MetricsPolicy = types.MetricsFailClosed

		id, err := o.StartRollout(context.Background(), config)
		require.NoError(t, err)

		state := waitForTerminal(t, o, id)
		assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
		assert.Contains(t, state.RollbackReason, "no metrics available")
	})
}

func TestRingRolloutTargetsGroups(t *testing.T) {
	o, split := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutRing)
	config.TargetGroups = []string{"internal", "early-adopters", "everyone"}

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseCompleted, state.CurrentPhase)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)
	assert.Equal(t, "everyone", split.CurrentGroup("billing-api"))
}

func TestGetRolloutStatusSnapshotsAreIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	id, err := o.StartRollout(context.Background(), testConfig(types.RolloutProgressive))
	require.NoError(t, err)
	waitForTerminal(t, o, id)

	first, ok := o.GetRolloutStatus(id)
	require.True(t, ok)
	second, ok := o.GetRolloutStatus(id)
	require.True(t, ok)
	assert.Equal(t, first, second)

	// Mutating a snapshot must not leak into the orchestrator's state.
	first.Errors = append(first.Errors, "tampered")
	third, ok := o.GetRolloutStatus(id)
	require.True(t, ok)
	assert.Equal(t, second, third)
}

func TestListActiveRolloutsExcludesTerminal(t *testing.T) {
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)

	done, err := o.StartRollout(context.Background(), testConfig(types.RolloutProgressive))
	require.NoError(t, err)
	waitForTerminal(t, o, done)

	config := testConfig(types.RolloutProgressive)
	config.ValidationDuration = time.Hour
	running, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)
	defer o.AbortRollout(running, "test cleanup")

	require.Eventually(t, func() bool {
		active := o.ListActiveRollouts()
		return len(active) == 1 && active[0].RolloutID == running
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStartRolloutRejectsInvalidConfig(t *testing.T) {
	o, _ := newTestOrchestrator(orchestrator.NewLocal(), collector.NewStaticPassing(), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*types.RolloutConfig)
	}{
		{"unknown strategy", func(c *types.RolloutConfig) { c.Strategy = "yolo" }},
		{"empty phases", func(c *types.RolloutConfig) { c.Phases = nil }},
		{"descending phases", func(c *types.RolloutConfig) { c.Phases = []int{50, 10} }},
		{"percentage out of range", func(c *types.RolloutConfig) { c.Phases = []int{10, 120} }},
		{"service mismatch", func(c *types.RolloutConfig) { c.ServiceName = "other-api" }},
		{"missing image", func(c *types.RolloutConfig) { c.Spec.Image = "" }},
		{"feature flag without flags", func(c *types.RolloutConfig) {
			c.Strategy = types.RolloutFeatureFlag
			c.FeatureFlags = nil
		}},
		{"unknown metrics policy", func(c *types.RolloutConfig) { c.MetricsPolicy = "maybe" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(types.RolloutProgressive)
			tt.mutate(&config)
			_, err := o.StartRollout(ctx, config)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestWatchdogAbortsExpiredRollout(t *testing.T) {
	counting := &countingOrchestrator{Local: orchestrator.NewLocal()}
	o, _ := newTestOrchestrator(counting, collector.NewStaticPassing(), nil)

	config := testConfig(types.RolloutProgressive)
	config.ValidationDuration = time.Hour
	config.Spec.RollbackTimeout = 20 * time.Millisecond

	id, err := o.StartRollout(context.Background(), config)
	require.NoError(t, err)

	watchdog := NewWatchdog(o, 10*time.Millisecond)
	watchdog.Start()
	defer watchdog.Stop()

	state := waitForTerminal(t, o, id)
	assert.Equal(t, types.PhaseFailed, state.CurrentPhase)
	assert.Contains(t, state.RollbackReason, "rollback timeout exceeded")
	assert.Equal(t, int32(1), counting.rollbacks.Load())
}
