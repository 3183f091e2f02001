package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/switchyard/pkg/api"
	"github.com/opsline/switchyard/pkg/collector"
	"github.com/opsline/switchyard/pkg/deploy"
	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/rollout"
	"github.com/opsline/switchyard/pkg/traffic"
	"github.com/opsline/switchyard/pkg/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	automation := deploy.NewAutomation(orchestrator.NewLocal(), deploy.Options{})
	rollouts := rollout.NewOrchestrator(rollout.Deps{
		Automation: automation,
		Collector:  collector.NewStaticPassing(),
		Traffic:    traffic.NewSplitTable(),
	})
	server := httptest.NewServer(api.NewServer(automation, rollouts, nil).Handler())
	t.Cleanup(server.Close)

	return New(server.URL)
}

func TestClientDeployAndFetch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	result, err := c.Deploy(ctx, &types.DeploymentSpec{
		ServiceName: "billing-api",
		Image:       "registry.local/billing-api",
		Tag:         "1.0.0",
		Replicas:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentSucceeded, result.Status)

	fetched, err := c.GetDeployment(ctx, result.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, result.DeploymentID, fetched.DeploymentID)

	list, err := c.ListDeployments(ctx, types.DeploymentFilter{ServiceName: "billing-api"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClientDeployValidationError(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Deploy(context.Background(), &types.DeploymentSpec{
		ServiceName: "billing-api",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")
}

func TestClientRolloutLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rolloutID, err := c.StartRollout(ctx, &types.RolloutConfig{
		Strategy:    types.RolloutProgressive,
		ServiceName: "billing-api",
		Spec: types.DeploymentSpec{
			ServiceName: "billing-api",
			Image:       "registry.local/billing-api",
			Tag:         "2.0.0",
			Replicas:    2,
		},
		Phases:      []int{10, 100},
		AutoPromote: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rolloutID)

	require.Eventually(t, func() bool {
		state, err := c.GetRollout(ctx, rolloutID)
		return err == nil && state.CurrentPhase == types.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)

	state, err := c.GetRollout(ctx, rolloutID)
	require.NoError(t, err)
	assert.Equal(t, 100, state.CurrentTrafficPercentage)

	active, err := c.ListRollouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestClientAbortUnknownRollout(t *testing.T) {
	c := newTestClient(t)
	err := c.AbortRollout(context.Background(), "no-such-rollout", "test")
	require.Error(t, err)
}
