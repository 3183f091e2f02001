package flags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEnableDisable(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	require.NoError(t, reg.EnableFlag(ctx, "billing-v2", 25, map[string]string{"region": "eu"}))

	status, err := reg.GetFlagStatus(ctx, "billing-v2")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, 25, status.Percentage)
	assert.Equal(t, "eu", status.Filters["region"])

	require.NoError(t, reg.DisableFlag(ctx, "billing-v2"))

	status, err = reg.GetFlagStatus(ctx, "billing-v2")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Equal(t, 0, status.Percentage)
}

func TestRegistryRejectsBadPercentage(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.EnableFlag(context.Background(), "f", 101, nil))
	assert.Error(t, reg.EnableFlag(context.Background(), "f", -1, nil))
}

func TestRegistryUnknownFlag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GetFlagStatus(context.Background(), "missing")
	assert.Error(t, err)

	// Disabling an unknown flag is a safe no-op during rollback.
	assert.NoError(t, reg.DisableFlag(context.Background(), "missing"))
}
