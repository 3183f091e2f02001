package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/health"
	"github.com/opsline/switchyard/pkg/traffic"
	"github.com/opsline/switchyard/pkg/types"
)

// outcomeKind classifies the result of one phase step. The driving loop
// alone interprets outcomes; strategy routines never trigger rollback
// themselves.
type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomePromote
	outcomeFail
)

type phaseOutcome struct {
	kind   outcomeKind
	reason string
}

func continueOutcome() phaseOutcome          { return phaseOutcome{kind: outcomeContinue} }
func promoteOutcome() phaseOutcome           { return phaseOutcome{kind: outcomePromote} }
func failOutcome(reason string) phaseOutcome { return phaseOutcome{kind: outcomeFail, reason: reason} }

// runProgressive shifts traffic through each configured percentage,
// monitoring and validating at every step.
func (o *Orchestrator) runProgressive(ctx context.Context, r *run) phaseOutcome {
	return o.runPhased(ctx, r, nil)
}

// runRing is progressive sequencing scoped to target groups: phase i is
// applied to group i. When groups run short the last group repeats.
func (o *Orchestrator) runRing(ctx context.Context, r *run) phaseOutcome {
	return o.runPhased(ctx, r, r.config().TargetGroups)
}

func (o *Orchestrator) runPhased(ctx context.Context, r *run, groups []string) phaseOutcome {
	cfg := r.config()
	lastGroup := ""

	for i, pct := range cfg.Phases {
		group := ""
		if len(groups) > 0 {
			gi := i
			if gi >= len(groups) {
				gi = len(groups) - 1
			}
			group = groups[gi]
			lastGroup = group
		}

		r.setPhase(types.PhasePromoting)
		if err := o.setTraffic(ctx, r, i, pct, group); err != nil {
			return failOutcome("traffic split failed: " + err.Error())
		}

		if out := o.monitorWindow(ctx, r, i, pct, cfg.ValidationDuration); out.kind == outcomeFail {
			return out
		}
		o.publish(events.EventRolloutPhaseCompleted, r.snapshot(),
			fmt.Sprintf("phase %d at %d%% completed", i+1, pct))

		if i < len(cfg.Phases)-1 {
			if err := sleepCtx(ctx, cfg.PhaseDuration); err != nil {
				return failOutcome("cancelled: " + err.Error())
			}
		}
	}

	if r.snapshot().CurrentTrafficPercentage < 100 && cfg.AutoPromote {
		r.setPhase(types.PhasePromoting)
		if err := o.setTraffic(ctx, r, len(cfg.Phases)-1, 100, lastGroup); err != nil {
			return failOutcome("traffic split failed: " + err.Error())
		}
		o.publish(events.EventRolloutPromoted, r.snapshot(), "promoted to full traffic")
	}
	return promoteOutcome()
}

// runCanary holds a single low-percentage phase for twice the phase
// duration, validating every monitor interval, then promotes straight to
// full traffic.
func (o *Orchestrator) runCanary(ctx context.Context, r *run) phaseOutcome {
	cfg := r.config()
	pct := cfg.Phases[0]

	r.setPhase(types.PhasePromoting)
	if err := o.setTraffic(ctx, r, 0, pct, ""); err != nil {
		return failOutcome("traffic split failed: " + err.Error())
	}

	if out := o.monitorWindow(ctx, r, 0, pct, 2*cfg.PhaseDuration); out.kind == outcomeFail {
		return out
	}

	r.setPhase(types.PhasePromoting)
	if err := o.setTraffic(ctx, r, 0, 100, ""); err != nil {
		return failOutcome("traffic split failed: " + err.Error())
	}
	o.publish(events.EventRolloutPromoted, r.snapshot(), "canary promoted to full traffic")
	return promoteOutcome()
}

// runBlueGreen validates the green deployment's health with zero traffic
// shifted, then cuts over in a single step. A post-switch validation window
// can still fail the rollout even though the switch already happened.
func (o *Orchestrator) runBlueGreen(ctx context.Context, r *run) phaseOutcome {
	cfg := r.config()

	r.setPhase(types.PhaseValidating)
	results, healthy := health.RunChecks(ctx, cfg.Spec.HealthChecks)
	for _, res := range results {
		if !res.Healthy {
			r.appendError(fmt.Sprintf("health check %s %s: %s", res.Type, res.Endpoint, res.Message))
		}
	}
	if !healthy {
		return failOutcome("green deployment failed health validation")
	}

	r.setPhase(types.PhasePromoting)
	if err := o.setTraffic(ctx, r, 0, 100, ""); err != nil {
		return failOutcome("traffic split failed: " + err.Error())
	}
	o.publish(events.EventRolloutPromoted, r.snapshot(), "traffic switched to green")

	if out := o.monitorWindow(ctx, r, 0, 100, cfg.ValidationDuration); out.kind == outcomeFail {
		return out
	}
	return promoteOutcome()
}

// runABTest splits traffic evenly, holds for four phase durations while
// collecting metrics from both versions, and promotes only when the new
// version wins the comparison.
func (o *Orchestrator) runABTest(ctx context.Context, r *run) phaseOutcome {
	cfg := r.config()

	r.setPhase(types.PhasePromoting)
	if err := o.setTraffic(ctx, r, 0, 50, ""); err != nil {
		return failOutcome("traffic split failed: " + err.Error())
	}

	if out := o.monitorWindow(ctx, r, 0, 50, 4*cfg.PhaseDuration); out.kind == outcomeFail {
		return out
	}

	if !newVersionWins(r.snapshot().MetricsHistory) {
		return failOutcome("a/b analysis: incumbent version wins")
	}

	r.setPhase(types.PhasePromoting)
	if err := o.setTraffic(ctx, r, 0, 100, ""); err != nil {
		return failOutcome("traffic split failed: " + err.Error())
	}
	o.publish(events.EventRolloutPromoted, r.snapshot(), "a/b winner promoted to full traffic")
	return promoteOutcome()
}

// runFeatureFlag sequences the configured percentages like progressive, but
// shapes traffic by enabling feature flags instead of a traffic manager.
func (o *Orchestrator) runFeatureFlag(ctx context.Context, r *run) phaseOutcome {
	cfg := r.config()
	names := sortedFlagNames(cfg.FeatureFlags)

	for i, pct := range cfg.Phases {
		r.setPhase(types.PhasePromoting)
		if err := o.enableFlags(ctx, names, cfg.FeatureFlags, pct); err != nil {
			return failOutcome("feature flag update failed: " + err.Error())
		}
		r.setTrafficPercentage(i, pct)

		if out := o.monitorWindow(ctx, r, i, pct, cfg.ValidationDuration); out.kind == outcomeFail {
			return out
		}
		o.publish(events.EventRolloutPhaseCompleted, r.snapshot(),
			fmt.Sprintf("phase %d at %d%% completed", i+1, pct))

		if i < len(cfg.Phases)-1 {
			if err := sleepCtx(ctx, cfg.PhaseDuration); err != nil {
				return failOutcome("cancelled: " + err.Error())
			}
		}
	}

	if r.snapshot().CurrentTrafficPercentage < 100 && cfg.AutoPromote {
		r.setPhase(types.PhasePromoting)
		if err := o.enableFlags(ctx, names, cfg.FeatureFlags, 100); err != nil {
			return failOutcome("feature flag update failed: " + err.Error())
		}
		r.setTrafficPercentage(len(cfg.Phases)-1, 100)
		o.publish(events.EventRolloutPromoted, r.snapshot(), "flags promoted to full audience")
	}
	return promoteOutcome()
}

func (o *Orchestrator) enableFlags(ctx context.Context, names []string, flagFilters map[string]string, pct int) error {
	for _, name := range names {
		var filters map[string]string
		if audience := flagFilters[name]; audience != "" {
			filters = map[string]string{"audience": audience}
		}
		if err := o.flags.EnableFlag(ctx, name, pct, filters); err != nil {
			return err
		}
	}
	return nil
}

// setTraffic programs the data plane split for a target percentage and
// records it in the rollout state. The split call is awaited before the
// subsequent monitoring window so collected metrics reflect it.
func (o *Orchestrator) setTraffic(ctx context.Context, r *run, phaseIndex, pct int, group string) error {
	cfg := r.config()
	weights := map[string]int{
		r.oldLabel: 100 - pct,
		r.newLabel: pct,
	}

	var err error
	if group != "" {
		if targeter, ok := o.traffic.(traffic.GroupTargeter); ok {
			err = targeter.SetGroupTrafficSplit(ctx, cfg.ServiceName, group, weights)
		} else {
			err = o.traffic.SetTrafficSplit(ctx, cfg.ServiceName, weights)
		}
	} else {
		err = o.traffic.SetTrafficSplit(ctx, cfg.ServiceName, weights)
	}
	if err != nil {
		return err
	}

	r.setTrafficPercentage(phaseIndex, pct)
	return nil
}

func sortedFlagNames(flagFilters map[string]string) []string {
	names := make([]string, 0, len(flagFilters))
	for name := range flagFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
