package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/storage"
	"github.com/opsline/switchyard/pkg/types"
)

func testSpec(service string) *types.DeploymentSpec {
	return &types.DeploymentSpec{
		ServiceName: service,
		Image:       "registry.local/" + service,
		Tag:         "1.0.0",
		Replicas:    2,
		Strategy:    types.DeployStrategyRolling,
	}
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.DeploymentSpec)
		field  string
	}{
		{"missing service", func(s *types.DeploymentSpec) { s.ServiceName = "" }, "service_name"},
		{"missing image", func(s *types.DeploymentSpec) { s.Image = "" }, "image"},
		{"missing tag", func(s *types.DeploymentSpec) { s.Tag = "" }, "tag"},
		{"zero replicas", func(s *types.DeploymentSpec) { s.Replicas = 0 }, "replicas"},
		{"bad health endpoint", func(s *types.DeploymentSpec) {
			s.HealthChecks = []types.HealthCheck{{Type: types.HealthCheckHTTP, Endpoint: "not-a-url"}}
		}, "health_checks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec("billing-api")
			tt.mutate(spec)
			err := ValidateSpec(spec)
			require.Error(t, err)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.NoError(t, ValidateSpec(testSpec("billing-api")))
}

func TestDeployServiceRecordsHistory(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})

	result, err := auto.DeployService(context.Background(), testSpec("billing-api"))
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentSucceeded, result.Status)
	assert.NotEmpty(t, result.DeploymentID)
	assert.False(t, result.EndTime.IsZero())

	stored, ok := auto.GetDeploymentStatus(result.DeploymentID)
	require.True(t, ok)
	assert.Equal(t, types.DeploymentSucceeded, stored.Status)
}

func TestDeployServiceFailurePropagatesAndStaysQueryable(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})

	spec := testSpec("billing-api")
	spec.Labels = map[string]string{orchestrator.FailDeployLabel: "true"}

	result, err := auto.DeployService(context.Background(), spec)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.DeploymentFailed, result.Status)

	stored, ok := auto.GetDeploymentStatus(result.DeploymentID)
	require.True(t, ok)
	assert.Equal(t, types.DeploymentFailed, stored.Status)
}

func TestDeployServiceFailedResultIsDetachedFromHistory(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})

	spec := testSpec("billing-api")
	spec.Labels = map[string]string{orchestrator.FailDeployLabel: "true"}

	result, err := auto.DeployService(context.Background(), spec)
	require.Error(t, err)
	require.NotNil(t, result)

	// Mutating the returned result must not leak into recorded history.
	result.Status = types.DeploymentSucceeded
	result.ErrorMessage = ""

	stored, ok := auto.GetDeploymentStatus(result.DeploymentID)
	require.True(t, ok)
	assert.Equal(t, types.DeploymentFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestRollbackServiceRestoresPrevious(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})
	ctx := context.Background()

	first, err := auto.DeployService(ctx, testSpec("billing-api"))
	require.NoError(t, err)

	second := testSpec("billing-api")
	second.Tag = "1.1.0"
	bad, err := auto.DeployService(ctx, second)
	require.NoError(t, err)
	require.NotEqual(t, first.DeploymentID, bad.DeploymentID)

	ok, err := auto.RollbackService(ctx, bad.DeploymentID, "error rate exceeded threshold")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, found := auto.GetDeploymentStatus(bad.DeploymentID)
	require.True(t, found)
	assert.Equal(t, types.DeploymentRolledBack, stored.Status)
	assert.Equal(t, "error rate exceeded threshold", stored.RollbackReason)
}

func TestRollbackServiceWithoutCandidate(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})

	result, err := auto.DeployService(context.Background(), testSpec("billing-api"))
	require.NoError(t, err)

	ok, err := auto.RollbackService(context.Background(), result.DeploymentID, "manual")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDeploymentsFilterAndOrder(t *testing.T) {
	auto := NewAutomation(orchestrator.NewLocal(), Options{})
	ctx := context.Background()

	for _, service := range []string{"billing-api", "auth-api", "billing-api"} {
		_, err := auto.DeployService(ctx, testSpec(service))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	all := auto.ListDeployments(types.DeploymentFilter{})
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].StartTime.Before(all[i].StartTime), "expected newest first")
	}

	billing := auto.ListDeployments(types.DeploymentFilter{ServiceName: "billing-api"})
	assert.Len(t, billing, 2)

	limited := auto.ListDeployments(types.DeploymentFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestAutomationRestoresHistoryFromStore(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	auto := NewAutomation(orchestrator.NewLocal(), Options{Store: store})
	result, err := auto.DeployService(context.Background(), testSpec("billing-api"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	restored := NewAutomation(orchestrator.NewLocal(), Options{Store: store})
	stored, ok := restored.GetDeploymentStatus(result.DeploymentID)
	require.True(t, ok)
	assert.Equal(t, types.DeploymentSucceeded, stored.Status)
}
