package types

import (
	"time"
)

// DeploymentStrategy defines how a single deployment is executed by the
// container orchestrator.
type DeploymentStrategy string

const (
	DeployStrategyRolling   DeploymentStrategy = "rolling"
	DeployStrategyBlueGreen DeploymentStrategy = "blue_green"
	DeployStrategyCanary    DeploymentStrategy = "canary"
	DeployStrategyRecreate  DeploymentStrategy = "recreate"
)

// DeploymentStatus represents the lifecycle state of a deployment attempt.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentInProgress  DeploymentStatus = "in_progress"
	DeploymentSucceeded   DeploymentStatus = "succeeded"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentRollingBack DeploymentStatus = "rolling_back"
	DeploymentRolledBack  DeploymentStatus = "rolled_back"
)

// Terminal reports whether the status is a terminal one.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentSucceeded, DeploymentFailed, DeploymentRolledBack:
		return true
	}
	return false
}

// HealthCheckType defines the probe mechanism for a health check.
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
)

// HealthCheck defines a single probe run against a deployed version.
type HealthCheck struct {
	Type             HealthCheckType `json:"type" yaml:"type"`
	Endpoint         string          `json:"endpoint" yaml:"endpoint"`
	Interval         time.Duration   `json:"interval" yaml:"interval"`
	Timeout          time.Duration   `json:"timeout" yaml:"timeout"`
	Retries          int             `json:"retries" yaml:"retries"`
	SuccessThreshold int             `json:"success_threshold" yaml:"success_threshold"`
	FailureThreshold int             `json:"failure_threshold" yaml:"failure_threshold"`
	ExpectedStatus   int             `json:"expected_status" yaml:"expected_status"`
}

// HealthCheckResult records the outcome of one probe execution.
type HealthCheckResult struct {
	Type      HealthCheckType `json:"type"`
	Endpoint  string          `json:"endpoint"`
	Healthy   bool            `json:"healthy"`
	Message   string          `json:"message"`
	CheckedAt time.Time       `json:"checked_at"`
}

// ResourceLimits caps the resources a deployed version may consume.
type ResourceLimits struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`       // e.g. "500m"
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"` // e.g. "512Mi"
}

// VolumeMount defines a volume attached to the deployed containers.
type VolumeMount struct {
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// DeploymentSpec describes one version of a service to deploy. A spec is
// treated as immutable once a deployment starts; the automation layer copies
// it on intake.
type DeploymentSpec struct {
	ServiceName      string             `json:"service_name" yaml:"service_name"`
	Image            string             `json:"image" yaml:"image"`
	Tag              string             `json:"tag" yaml:"tag"`
	Replicas         int                `json:"replicas" yaml:"replicas"`
	Strategy         DeploymentStrategy `json:"strategy" yaml:"strategy"`
	ResourceLimits   ResourceLimits     `json:"resource_limits,omitempty" yaml:"resource_limits,omitempty"`
	Env              map[string]string  `json:"env,omitempty" yaml:"env,omitempty"`
	HealthChecks     []HealthCheck      `json:"health_checks,omitempty" yaml:"health_checks,omitempty"`
	Volumes          []VolumeMount      `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Ports            map[int]int        `json:"ports,omitempty" yaml:"ports,omitempty"` // host -> container
	Labels           map[string]string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations      map[string]string  `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	RollbackTimeout  time.Duration      `json:"rollback_timeout,omitempty" yaml:"rollback_timeout,omitempty"` // advisory
	CanaryPercentage int                `json:"canary_percentage,omitempty" yaml:"canary_percentage,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s *DeploymentSpec) Clone() *DeploymentSpec {
	c := *s
	c.Env = copyStringMap(s.Env)
	c.Labels = copyStringMap(s.Labels)
	c.Annotations = copyStringMap(s.Annotations)
	if s.HealthChecks != nil {
		c.HealthChecks = make([]HealthCheck, len(s.HealthChecks))
		copy(c.HealthChecks, s.HealthChecks)
	}
	if s.Volumes != nil {
		c.Volumes = make([]VolumeMount, len(s.Volumes))
		copy(c.Volumes, s.Volumes)
	}
	if s.Ports != nil {
		c.Ports = make(map[int]int, len(s.Ports))
		for k, v := range s.Ports {
			c.Ports[k] = v
		}
	}
	return &c
}

// VersionLabel returns the version label a deployment of this spec is
// tracked under in rollout state and traffic splits.
func (s *DeploymentSpec) VersionLabel() string {
	return "v" + s.Tag
}

// DeploymentResult captures the outcome of a single deployment attempt.
// Created by the orchestrator driver, mutated only by the automation layer,
// and retained in append-only history keyed by DeploymentID.
type DeploymentResult struct {
	DeploymentID       string              `json:"deployment_id"`
	ServiceName        string              `json:"service_name"`
	Status             DeploymentStatus    `json:"status"`
	StartTime          time.Time           `json:"start_time"`
	EndTime            time.Time           `json:"end_time,omitzero"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	RollbackReason     string              `json:"rollback_reason,omitempty"`
	Metrics            map[string]float64  `json:"metrics,omitempty"`
	HealthCheckResults []HealthCheckResult `json:"health_check_results,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *DeploymentResult) Clone() *DeploymentResult {
	c := *r
	c.Metrics = copyFloatMap(r.Metrics)
	if r.HealthCheckResults != nil {
		c.HealthCheckResults = make([]HealthCheckResult, len(r.HealthCheckResults))
		copy(c.HealthCheckResults, r.HealthCheckResults)
	}
	return &c
}

// DeploymentFilter narrows ListDeployments results.
type DeploymentFilter struct {
	ServiceName string
	Status      DeploymentStatus
	Limit       int
}

// RolloutStrategy defines how traffic is shifted to a new version.
type RolloutStrategy string

const (
	RolloutProgressive RolloutStrategy = "progressive"
	RolloutCanary      RolloutStrategy = "canary"
	RolloutBlueGreen   RolloutStrategy = "blue_green"
	RolloutABTest      RolloutStrategy = "a_b_test"
	RolloutRing        RolloutStrategy = "ring"
	RolloutFeatureFlag RolloutStrategy = "feature_flag"
)

// MetricsPolicy decides how validation behaves when no metrics are
// available from the collector.
type MetricsPolicy string

const (
	// MetricsFailOpen passes validation when no metrics could be collected.
	MetricsFailOpen MetricsPolicy = "fail_open"
	// MetricsFailClosed fails validation when no metrics could be collected.
	MetricsFailClosed MetricsPolicy = "fail_closed"
)

// RolloutMetrics holds the SLO thresholds a new version must satisfy during
// each validation window. All comparisons are "actual must not exceed
// threshold" except SuccessRateThreshold, which is "must not fall below".
type RolloutMetrics struct {
	ErrorRateThreshold       float64            `json:"error_rate_threshold" yaml:"error_rate_threshold"`
	ResponseTimeP95Threshold float64            `json:"response_time_p95_threshold" yaml:"response_time_p95_threshold"` // milliseconds
	SuccessRateThreshold     float64            `json:"success_rate_threshold" yaml:"success_rate_threshold"`
	CPUThreshold             float64            `json:"cpu_threshold" yaml:"cpu_threshold"`
	MemoryThreshold          float64            `json:"memory_threshold" yaml:"memory_threshold"`
	CustomMetrics            map[string]float64 `json:"custom_metrics,omitempty" yaml:"custom_metrics,omitempty"` // name -> max value
}

// DefaultRolloutMetrics returns the standard SLO thresholds.
func DefaultRolloutMetrics() RolloutMetrics {
	return RolloutMetrics{
		ErrorRateThreshold:       0.05,
		ResponseTimeP95Threshold: 500,
		SuccessRateThreshold:     0.95,
		CPUThreshold:             80,
		MemoryThreshold:          90,
	}
}

// RolloutConfig wraps a DeploymentSpec with the strategy, phase schedule and
// thresholds that drive one rollout.
type RolloutConfig struct {
	Strategy           RolloutStrategy   `json:"strategy" yaml:"strategy"`
	ServiceName        string            `json:"service_name" yaml:"service_name"`
	Spec               DeploymentSpec    `json:"spec" yaml:"spec"`
	Phases             []int             `json:"phases" yaml:"phases"` // target traffic percentages, ascending
	PhaseDuration      time.Duration     `json:"phase_duration" yaml:"phase_duration"`
	ValidationDuration time.Duration     `json:"validation_duration" yaml:"validation_duration"`
	MonitorInterval    time.Duration     `json:"monitor_interval,omitempty" yaml:"monitor_interval,omitempty"` // default 1m
	Thresholds         RolloutMetrics    `json:"thresholds" yaml:"thresholds"`
	AutoPromote        bool              `json:"auto_promote" yaml:"auto_promote"`
	AutoRollback       bool              `json:"auto_rollback" yaml:"auto_rollback"`
	TrafficSplitMethod string            `json:"traffic_split_method,omitempty" yaml:"traffic_split_method,omitempty"`
	TargetGroups       []string          `json:"target_groups,omitempty" yaml:"target_groups,omitempty"`
	FeatureFlags       map[string]string `json:"feature_flags,omitempty" yaml:"feature_flags,omitempty"`
	MetricsPolicy      MetricsPolicy     `json:"metrics_policy,omitempty" yaml:"metrics_policy,omitempty"` // default fail_open
}

// RolloutPhase is the state machine position of a rollout.
type RolloutPhase string

const (
	PhaseInitializing RolloutPhase = "initializing"
	PhaseDeploying    RolloutPhase = "deploying"
	PhaseMonitoring   RolloutPhase = "monitoring"
	PhaseValidating   RolloutPhase = "validating"
	PhasePromoting    RolloutPhase = "promoting"
	PhaseCompleted    RolloutPhase = "completed"
	PhaseFailed       RolloutPhase = "failed"
	PhaseRollingBack  RolloutPhase = "rolling_back"
)

// Terminal reports whether the phase is a terminal one.
func (p RolloutPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// MetricsSnapshot is one observation of both versions taken during a
// monitoring window.
type MetricsSnapshot struct {
	NewVersion        map[string]float64 `json:"new_version"`
	OldVersion        map[string]float64 `json:"old_version,omitempty"`
	TrafficPercentage int                `json:"traffic_percentage"`
	PhaseIndex        int                `json:"phase_index"`
	Timestamp         time.Time          `json:"timestamp"`
}

// RolloutState is the full state of one rollout. It is owned exclusively by
// the rollout's goroutine; external readers only ever see deep copies.
type RolloutState struct {
	RolloutID                string            `json:"rollout_id"`
	Config                   RolloutConfig     `json:"config"`
	CurrentPhase             RolloutPhase      `json:"current_phase"`
	CurrentTrafficPercentage int               `json:"current_traffic_percentage"`
	PhaseIndex               int               `json:"phase_index"`
	StartTime                time.Time         `json:"start_time"`
	EndTime                  time.Time         `json:"end_time,omitzero"`
	DeploymentIDs            map[string]string `json:"deployment_ids"` // version label -> deployment id
	MetricsHistory           []MetricsSnapshot `json:"metrics_history,omitempty"`
	Errors                   []string          `json:"errors,omitempty"`
	RollbackReason           string            `json:"rollback_reason,omitempty"`
}

// Clone returns a deep copy of the rollout state.
func (s *RolloutState) Clone() *RolloutState {
	c := *s
	c.Config.Spec = *s.Config.Spec.Clone()
	if s.Config.Phases != nil {
		c.Config.Phases = make([]int, len(s.Config.Phases))
		copy(c.Config.Phases, s.Config.Phases)
	}
	c.Config.TargetGroups = append([]string(nil), s.Config.TargetGroups...)
	c.Config.FeatureFlags = copyStringMap(s.Config.FeatureFlags)
	c.DeploymentIDs = copyStringMap(s.DeploymentIDs)
	if s.MetricsHistory != nil {
		c.MetricsHistory = make([]MetricsSnapshot, len(s.MetricsHistory))
		for i, snap := range s.MetricsHistory {
			cs := snap
			cs.NewVersion = copyFloatMap(snap.NewVersion)
			cs.OldVersion = copyFloatMap(snap.OldVersion)
			c.MetricsHistory[i] = cs
		}
	}
	c.Errors = append([]string(nil), s.Errors...)
	return &c
}

// Standard metric names reported by collectors and compared against
// RolloutMetrics thresholds.
const (
	MetricErrorRate       = "error_rate"
	MetricResponseTimeP95 = "response_time_p95"
	MetricSuccessRate     = "success_rate"
	MetricCPUUsage        = "cpu_usage"
	MetricMemoryUsage     = "memory_usage"
)

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
