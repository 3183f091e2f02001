package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/switchyard/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeploymentRoundTrip(t *testing.T) {
	store := openTestStore(t)

	result := &types.DeploymentResult{
		DeploymentID: "dep-1",
		ServiceName:  "billing-api",
		Status:       types.DeploymentSucceeded,
		StartTime:    time.Now().Truncate(time.Second),
		EndTime:      time.Now().Truncate(time.Second),
		Metrics:      map[string]float64{"replicas": 3},
	}
	require.NoError(t, store.SaveDeployment(result))

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, result.ServiceName, got.ServiceName)
	assert.Equal(t, result.Status, got.Status)
	assert.Equal(t, result.Metrics, got.Metrics)

	list, err := store.ListDeployments()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeploymentNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetDeployment("missing")
	assert.Error(t, err)
}

func TestSaveDeploymentIsUpsert(t *testing.T) {
	store := openTestStore(t)

	result := &types.DeploymentResult{
		DeploymentID: "dep-1",
		ServiceName:  "billing-api",
		Status:       types.DeploymentInProgress,
		StartTime:    time.Now(),
	}
	require.NoError(t, store.SaveDeployment(result))

	result.Status = types.DeploymentFailed
	result.ErrorMessage = "image pull failed"
	require.NoError(t, store.SaveDeployment(result))

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentFailed, got.Status)
	assert.Equal(t, "image pull failed", got.ErrorMessage)

	list, err := store.ListDeployments()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRolloutRoundTrip(t *testing.T) {
	store := openTestStore(t)

	state := &types.RolloutState{
		RolloutID: "ro-1",
		Config: types.RolloutConfig{
			Strategy:    types.RolloutProgressive,
			ServiceName: "billing-api",
			Phases:      []int{10, 50, 100},
		},
		CurrentPhase:             types.PhaseCompleted,
		CurrentTrafficPercentage: 100,
		DeploymentIDs:            map[string]string{"v2.0.0": "dep-2"},
		StartTime:                time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.SaveRollout(state))

	got, err := store.GetRollout("ro-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, got.CurrentPhase)
	assert.Equal(t, 100, got.CurrentTrafficPercentage)
	assert.Equal(t, state.Config.Phases, got.Config.Phases)
	assert.Equal(t, state.DeploymentIDs, got.DeploymentIDs)

	list, err := store.ListRollouts()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
