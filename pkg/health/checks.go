package health

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/opsline/switchyard/pkg/types"
)

// ForCheck builds a Checker from a deployment spec health check.
func ForCheck(hc types.HealthCheck) (Checker, error) {
	switch hc.Type {
	case types.HealthCheckHTTP:
		if err := ValidateEndpoint(hc.Endpoint); err != nil {
			return nil, err
		}
		return NewHTTPChecker(hc.Endpoint, hc.ExpectedStatus, hc.Timeout), nil
	case types.HealthCheckTCP:
		return NewTCPChecker(hc.Endpoint, hc.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported health check type %q", hc.Type)
	}
}

// ValidateEndpoint checks that an HTTP health check endpoint is a well
// formed http or https URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed health check endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("health check endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("health check endpoint %q: missing host", endpoint)
	}
	return nil
}

// RunChecks probes every health check in the list, retrying each up to its
// configured retry count, and reports per-check results. The second return
// is true only when every check passed.
func RunChecks(ctx context.Context, checks []types.HealthCheck) ([]types.HealthCheckResult, bool) {
	results := make([]types.HealthCheckResult, 0, len(checks))
	allHealthy := true

	for _, hc := range checks {
		checker, err := ForCheck(hc)
		if err != nil {
			results = append(results, types.HealthCheckResult{
				Type:      hc.Type,
				Endpoint:  hc.Endpoint,
				Healthy:   false,
				Message:   err.Error(),
				CheckedAt: time.Now(),
			})
			allHealthy = false
			continue
		}

		attempts := hc.Retries
		if attempts < 1 {
			attempts = 1
		}

		var last Result
		for attempt := 0; attempt < attempts; attempt++ {
			last = checker.Check(ctx)
			if last.Healthy || ctx.Err() != nil {
				break
			}
			if attempt < attempts-1 && hc.Interval > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(hc.Interval):
				}
			}
		}

		results = append(results, types.HealthCheckResult{
			Type:      hc.Type,
			Endpoint:  hc.Endpoint,
			Healthy:   last.Healthy,
			Message:   last.Message,
			CheckedAt: last.CheckedAt,
		})
		if !last.Healthy {
			allHealthy = false
		}
	}

	return results, allHealthy
}
