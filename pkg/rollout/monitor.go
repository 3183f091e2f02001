package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opsline/switchyard/pkg/metrics"
	"github.com/opsline/switchyard/pkg/types"
)

// abAnalysisWindow is how many trailing snapshots the A/B winner analysis
// averages over.
const abAnalysisWindow = 10

// ThresholdBreach reports a collected metric that violated its configured
// threshold. It drives rollback, it is not an exceptional crash.
type ThresholdBreach struct {
	Metric    string
	Actual    float64
	Threshold float64
}

func (e *ThresholdBreach) Error() string {
	if e.Metric == types.MetricSuccessRate {
		return fmt.Sprintf("threshold breached: %s %.4f below %.4f", e.Metric, e.Actual, e.Threshold)
	}
	return fmt.Sprintf("threshold breached: %s %.4f exceeds %.4f", e.Metric, e.Actual, e.Threshold)
}

// monitorWindow runs the phase-monitoring primitive: one metrics snapshot
// per monitor interval across the window, each followed by validation of
// the latest snapshot. The window always takes at least one sample so
// zero-duration configs still validate.
func (o *Orchestrator) monitorWindow(ctx context.Context, r *run, phaseIndex, pct int, window time.Duration) phaseOutcome {
	cfg := r.config()
	state := r.snapshot()

	iterations := 1
	if cfg.MonitorInterval > 0 && window > cfg.MonitorInterval {
		iterations = int(window / cfg.MonitorInterval)
	}

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return failOutcome("cancelled: " + err.Error())
		}

		r.setPhase(types.PhaseMonitoring)
		snap := types.MetricsSnapshot{
			NewVersion:        o.collector.Collect(ctx, cfg.ServiceName, r.newLabel, cfg.MonitorInterval),
			TrafficPercentage: pct,
			PhaseIndex:        phaseIndex,
			Timestamp:         time.Now(),
		}
		if pct < 100 {
			snap.OldVersion = o.collector.Collect(ctx, cfg.ServiceName, r.oldLabel, cfg.MonitorInterval)
		}
		r.appendSnapshot(snap)
		metrics.RolloutPhaseProgress.
			WithLabelValues(state.RolloutID, string(types.PhaseMonitoring)).
			Set(float64(pct))

		r.setPhase(types.PhaseValidating)
		if err := validateSnapshot(snap.NewVersion, cfg.Thresholds, cfg.MetricsPolicy); err != nil {
			return failOutcome(err.Error())
		}

		if i < iterations-1 {
			if err := sleepCtx(ctx, cfg.MonitorInterval); err != nil {
				return failOutcome("cancelled: " + err.Error())
			}
		}
	}
	return continueOutcome()
}

// validateSnapshot checks the latest new-version metrics against the
// thresholds, short-circuiting on the first breach. With no metrics at all
// the policy decides: fail-open passes, fail-closed breaches.
func validateSnapshot(values map[string]float64, thresholds types.RolloutMetrics, policy types.MetricsPolicy) error {
	if len(values) == 0 {
		if policy == types.MetricsFailClosed {
			return fmt.Errorf("no metrics available")
		}
		return nil
	}

	if v, ok := values[types.MetricErrorRate]; ok && v > thresholds.ErrorRateThreshold {
		return &ThresholdBreach{Metric: types.MetricErrorRate, Actual: v, Threshold: thresholds.ErrorRateThreshold}
	}
	if v, ok := values[types.MetricResponseTimeP95]; ok && v > thresholds.ResponseTimeP95Threshold {
		return &ThresholdBreach{Metric: types.MetricResponseTimeP95, Actual: v, Threshold: thresholds.ResponseTimeP95Threshold}
	}
	if v, ok := values[types.MetricSuccessRate]; ok && v < thresholds.SuccessRateThreshold {
		return &ThresholdBreach{Metric: types.MetricSuccessRate, Actual: v, Threshold: thresholds.SuccessRateThreshold}
	}
	if v, ok := values[types.MetricCPUUsage]; ok && v > thresholds.CPUThreshold {
		return &ThresholdBreach{Metric: types.MetricCPUUsage, Actual: v, Threshold: thresholds.CPUThreshold}
	}
	if v, ok := values[types.MetricMemoryUsage]; ok && v > thresholds.MemoryThreshold {
		return &ThresholdBreach{Metric: types.MetricMemoryUsage, Actual: v, Threshold: thresholds.MemoryThreshold}
	}

	names := make([]string, 0, len(thresholds.CustomMetrics))
	for name := range thresholds.CustomMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v, ok := values[name]; ok && v > thresholds.CustomMetrics[name] {
			return &ThresholdBreach{Metric: name, Actual: v, Threshold: thresholds.CustomMetrics[name]}
		}
	}
	return nil
}

// newVersionWins averages error rate and p95 latency over the trailing
// snapshots for both versions. The new version wins only when both averages
// are strictly lower than the incumbent's; ties go to the incumbent.
func newVersionWins(history []types.MetricsSnapshot) bool {
	if len(history) == 0 {
		return false
	}
	start := len(history) - abAnalysisWindow
	if start < 0 {
		start = 0
	}
	window := history[start:]

	newErr, newP95 := versionAverages(window, false)
	oldErr, oldP95 := versionAverages(window, true)

	return newErr < oldErr && newP95 < oldP95
}

func versionAverages(window []types.MetricsSnapshot, old bool) (errRate, p95 float64) {
	var errSum, p95Sum float64
	var errN, p95N int
	for _, snap := range window {
		values := snap.NewVersion
		if old {
			values = snap.OldVersion
		}
		if v, ok := values[types.MetricErrorRate]; ok {
			errSum += v
			errN++
		}
		if v, ok := values[types.MetricResponseTimeP95]; ok {
			p95Sum += v
			p95N++
		}
	}
	if errN > 0 {
		errRate = errSum / float64(errN)
	}
	if p95N > 0 {
		p95 = p95Sum / float64(p95N)
	}
	return errRate, p95
}
