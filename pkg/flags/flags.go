package flags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsline/switchyard/pkg/log"
)

// FlagStatus reports the current state of a feature flag.
type FlagStatus struct {
	Name       string            `json:"name"`
	Enabled    bool              `json:"enabled"`
	Percentage int               `json:"percentage"`
	Filters    map[string]string `json:"filters,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FeatureFlagManager toggles runtime flags that gate a percentage of users
// onto the new version. Used by feature-flag rollouts instead of a traffic
// manager; concrete managers talk to a flag vendor, the in-memory Registry
// is used for development and tests.
type FeatureFlagManager interface {
	EnableFlag(ctx context.Context, name string, percentage int, filters map[string]string) error
	DisableFlag(ctx context.Context, name string) error
	GetFlagStatus(ctx context.Context, name string) (FlagStatus, error)
}

// Registry is an in-memory FeatureFlagManager.
type Registry struct {
	mu     sync.RWMutex
	flags  map[string]FlagStatus
	logger zerolog.Logger
}

// NewRegistry creates an empty in-memory flag manager.
func NewRegistry() *Registry {
	return &Registry{
		flags:  make(map[string]FlagStatus),
		logger: log.WithComponent("flags"),
	}
}

// EnableFlag turns a flag on for a percentage of users.
func (r *Registry) EnableFlag(ctx context.Context, name string, percentage int, filters map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("percentage out of range for flag %q: %d", name, percentage)
	}

	var copied map[string]string
	if filters != nil {
		copied = make(map[string]string, len(filters))
		for k, v := range filters {
			copied[k] = v
		}
	}

	r.mu.Lock()
	r.flags[name] = FlagStatus{
		Name:       name,
		Enabled:    true,
		Percentage: percentage,
		Filters:    copied,
		UpdatedAt:  time.Now(),
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("flag", name).
		Int("percentage", percentage).
		Msg("feature flag enabled")
	return nil
}

// DisableFlag turns a flag off. Disabling an unknown flag is a no-op.
func (r *Registry) DisableFlag(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	status := r.flags[name]
	status.Name = name
	status.Enabled = false
	status.Percentage = 0
	status.UpdatedAt = time.Now()
	r.flags[name] = status
	r.mu.Unlock()

	r.logger.Debug().Str("flag", name).Msg("feature flag disabled")
	return nil
}

// GetFlagStatus returns the state of a flag.
func (r *Registry) GetFlagStatus(ctx context.Context, name string) (FlagStatus, error) {
	if err := ctx.Err(); err != nil {
		return FlagStatus{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.flags[name]
	if !ok {
		return FlagStatus{}, fmt.Errorf("flag not found: %s", name)
	}
	return status, nil
}
