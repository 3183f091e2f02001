package rollout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/switchyard/pkg/types"
)

func passingMetrics() map[string]float64 {
	return map[string]float64{
		types.MetricErrorRate:       0.01,
		types.MetricResponseTimeP95: 100,
		types.MetricSuccessRate:     0.99,
		types.MetricCPUUsage:        10,
		types.MetricMemoryUsage:     20,
	}
}

func TestValidateSnapshotThresholds(t *testing.T) {
	thresholds := types.DefaultRolloutMetrics()

	t.Run("all within bounds", func(t *testing.T) {
		values := passingMetrics()
		values[types.MetricErrorRate] = 0.04
		assert.NoError(t, validateSnapshot(values, thresholds, types.MetricsFailOpen))
	})

	t.Run("error rate over threshold", func(t *testing.T) {
		values := passingMetrics()
		values[types.MetricErrorRate] = 0.06
		err := validateSnapshot(values, thresholds, types.MetricsFailOpen)
		var breach *ThresholdBreach
		require.ErrorAs(t, err, &breach)
		assert.Equal(t, types.MetricErrorRate, breach.Metric)
	})

	t.Run("error rate exactly at threshold passes", func(t *testing.T) {
		values := passingMetrics()
		values[types.MetricErrorRate] = 0.05
		assert.NoError(t, validateSnapshot(values, thresholds, types.MetricsFailOpen))
	})

	t.Run("success rate below threshold", func(t *testing.T) {
		values := passingMetrics()
		values[types.MetricSuccessRate] = 0.90
		err := validateSnapshot(values, thresholds, types.MetricsFailOpen)
		var breach *ThresholdBreach
		require.ErrorAs(t, err, &breach)
		assert.Equal(t, types.MetricSuccessRate, breach.Metric)
	})

	t.Run("short circuits in order", func(t *testing.T) {
		values := passingMetrics()
		values[types.MetricErrorRate] = 0.50
		values[types.MetricCPUUsage] = 99
		err := validateSnapshot(values, thresholds, types.MetricsFailOpen)
		var breach *ThresholdBreach
		require.ErrorAs(t, err, &breach)
		assert.Equal(t, types.MetricErrorRate, breach.Metric, "error rate is checked first")
	})

	t.Run("custom metric over threshold", func(t *testing.T) {
		custom := thresholds
		custom.CustomMetrics = map[string]float64{"queue_depth": 1000}
		values := passingMetrics()
		values["queue_depth"] = 2500
		err := validateSnapshot(values, custom, types.MetricsFailOpen)
		var breach *ThresholdBreach
		require.ErrorAs(t, err, &breach)
		assert.Equal(t, "queue_depth", breach.Metric)
	})

	t.Run("empty metrics fail open", func(t *testing.T) {
		assert.NoError(t, validateSnapshot(nil, thresholds, types.MetricsFailOpen))
	})

	t.Run("empty metrics fail closed", func(t *testing.T) {
		assert.Error(t, validateSnapshot(nil, thresholds, types.MetricsFailClosed))
	})
}

func abSnapshots(n int, newErr, newP95, oldErr, oldP95 float64) []types.MetricsSnapshot {
	snaps := make([]types.MetricsSnapshot, n)
	for i := range snaps {
		snaps[i] = types.MetricsSnapshot{
			NewVersion: map[string]float64{
				types.MetricErrorRate:       newErr,
				types.MetricResponseTimeP95: newP95,
			},
			OldVersion: map[string]float64{
				types.MetricErrorRate:       oldErr,
				types.MetricResponseTimeP95: oldP95,
			},
			TrafficPercentage: 50,
			Timestamp:         time.Now(),
		}
	}
	return snaps
}

func TestNewVersionWins(t *testing.T) {
	t.Run("both metrics strictly lower", func(t *testing.T) {
		assert.True(t, newVersionWins(abSnapshots(10, 0.01, 150, 0.02, 200)))
	})

	t.Run("latency reversed", func(t *testing.T) {
		assert.False(t, newVersionWins(abSnapshots(10, 0.01, 250, 0.02, 200)))
	})

	t.Run("error rate reversed", func(t *testing.T) {
		assert.False(t, newVersionWins(abSnapshots(10, 0.03, 150, 0.02, 200)))
	})

	t.Run("tie goes to the incumbent", func(t *testing.T) {
		assert.False(t, newVersionWins(abSnapshots(10, 0.02, 150, 0.02, 200)))
	})

	t.Run("no snapshots", func(t *testing.T) {
		assert.False(t, newVersionWins(nil))
	})

	t.Run("only trailing window counts", func(t *testing.T) {
		// Old snapshots where the new version loses, followed by ten where
		// it wins. Only the trailing ten are analyzed.
		history := abSnapshots(5, 0.9, 900, 0.02, 200)
		history = append(history, abSnapshots(10, 0.01, 150, 0.02, 200)...)
		assert.True(t, newVersionWins(history))
	})
}
