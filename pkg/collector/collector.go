package collector

import (
	"context"
	"sync"
	"time"

	"github.com/opsline/switchyard/pkg/types"
)

// MetricsCollector retrieves service-level metrics for one version of a
// service over a trailing window. Implementations are backed by an external
// metrics system (Prometheus, SigNoz); the boundary contract is that backend
// failures are logged by the implementation and surface as an empty map,
// never as an error in the rollout loop. Validation policy (fail-open or
// fail-closed) decides what an empty map means.
type MetricsCollector interface {
	Collect(ctx context.Context, service, version string, window time.Duration) map[string]float64
}

// Static is an in-memory collector that serves fixed metric profiles,
// keyed by service/version. Used for development and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]map[string]float64 // service "/" version -> metrics
	defaults map[string]float64            // served when no profile matches
}

// NewStatic creates a static collector with no default profile. Collect
// returns an empty map for unknown service/version pairs.
func NewStatic() *Static {
	return &Static{profiles: make(map[string]map[string]float64)}
}

// NewStaticPassing creates a static collector whose default profile passes
// the standard thresholds.
func NewStaticPassing() *Static {
	s := NewStatic()
	s.defaults = map[string]float64{
		types.MetricErrorRate:       0.0,
		types.MetricResponseTimeP95: 100,
		types.MetricSuccessRate:     1.0,
		types.MetricCPUUsage:        10,
		types.MetricMemoryUsage:     20,
	}
	return s
}

// SetProfile fixes the metrics served for a service/version pair.
func (s *Static) SetProfile(service, version string, values map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.profiles[service+"/"+version] = copied
}

// Collect returns the configured profile, the default profile, or an empty
// map, in that order of preference.
func (s *Static) Collect(ctx context.Context, service, version string, window time.Duration) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.profiles[service+"/"+version]
	if !ok {
		src = s.defaults
	}

	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
