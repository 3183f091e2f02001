package traffic

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opsline/switchyard/pkg/log"
)

// TrafficManager shifts live traffic between versions of a service.
// Weights are percentages keyed by version label and should sum to 100.
// Concrete managers program an NGINX/Istio data plane; the in-memory
// SplitTable is used for development and tests.
type TrafficManager interface {
	SetTrafficSplit(ctx context.Context, service string, weights map[string]int) error
	GetCurrentSplit(ctx context.Context, service string) (map[string]int, error)
}

// GroupTargeter is an optional capability for managers that can scope a
// split to a subscriber/target group (ring rollouts). Managers without
// group support fall back to plain SetTrafficSplit.
type GroupTargeter interface {
	SetGroupTrafficSplit(ctx context.Context, service, group string, weights map[string]int) error
}

// SplitTable is an in-memory TrafficManager.
type SplitTable struct {
	mu     sync.RWMutex
	splits map[string]map[string]int // service -> version label -> weight
	groups map[string]string         // service -> last targeted group
	logger zerolog.Logger
}

// NewSplitTable creates an empty in-memory traffic manager.
func NewSplitTable() *SplitTable {
	return &SplitTable{
		splits: make(map[string]map[string]int),
		groups: make(map[string]string),
		logger: log.WithComponent("traffic"),
	}
}

// SetTrafficSplit records the desired split for a service.
func (t *SplitTable) SetTrafficSplit(ctx context.Context, service string, weights map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	total := 0
	for _, w := range weights {
		if w < 0 || w > 100 {
			return fmt.Errorf("weight out of range for service %q: %d", service, w)
		}
		total += w
	}
	if total != 100 {
		return fmt.Errorf("weights for service %q sum to %d, want 100", service, total)
	}

	copied := make(map[string]int, len(weights))
	for k, v := range weights {
		copied[k] = v
	}

	t.mu.Lock()
	t.splits[service] = copied
	t.mu.Unlock()

	t.logger.Debug().
		Str("service", service).
		Interface("weights", copied).
		Msg("traffic split updated")
	return nil
}

// SetGroupTrafficSplit records a split scoped to a target group.
func (t *SplitTable) SetGroupTrafficSplit(ctx context.Context, service, group string, weights map[string]int) error {
	if err := t.SetTrafficSplit(ctx, service, weights); err != nil {
		return err
	}
	t.mu.Lock()
	t.groups[service] = group
	t.mu.Unlock()
	return nil
}

// GetCurrentSplit returns a copy of the current split for a service. A
// service with no recorded split reports an empty map.
func (t *SplitTable) GetCurrentSplit(ctx context.Context, service string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int, len(t.splits[service]))
	for k, v := range t.splits[service] {
		out[k] = v
	}
	return out, nil
}

// CurrentGroup returns the last group targeted for a service.
func (t *SplitTable) CurrentGroup(service string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.groups[service]
}
