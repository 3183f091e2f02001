package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func probeResult(start time.Time, healthy bool, message string) Result {
	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int

	// SuccessThreshold is the number of consecutive successes before marking
	// as healthy
	SuccessThreshold int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		Retries:          3,
		SuccessThreshold: 1,
	}
}

// Status tracks the probe history of one deployed version
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// LastResult is the result of the last health check
	LastResult Result

	// Healthy indicates if the version is currently considered healthy
	Healthy bool
}

// NewStatus creates a new Status. A version starts unhealthy and must pass
// probes to be considered healthy.
func NewStatus() *Status {
	return &Status{}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		threshold := config.SuccessThreshold
		if threshold < 1 {
			threshold = 1
		}
		if s.ConsecutiveSuccesses >= threshold {
			s.Healthy = true
		}
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		if config.Retries < 1 || s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}
