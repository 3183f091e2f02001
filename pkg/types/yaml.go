package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// flexDuration accepts Go duration strings ("30s", "5m") as well as bare
// integers (nanoseconds) in YAML manifests.
type flexDuration time.Duration

func (d *flexDuration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = flexDuration(parsed)
	case int:
		*d = flexDuration(v)
	case int64:
		*d = flexDuration(v)
	case float64:
		*d = flexDuration(int64(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// UnmarshalYAML lets health check manifests express interval and timeout as
// duration strings.
func (h *HealthCheck) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Type             HealthCheckType `yaml:"type"`
		Endpoint         string          `yaml:"endpoint"`
		Interval         flexDuration    `yaml:"interval"`
		Timeout          flexDuration    `yaml:"timeout"`
		Retries          int             `yaml:"retries"`
		SuccessThreshold int             `yaml:"success_threshold"`
		FailureThreshold int             `yaml:"failure_threshold"`
		ExpectedStatus   int             `yaml:"expected_status"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*h = HealthCheck{
		Type:             r.Type,
		Endpoint:         r.Endpoint,
		Interval:         time.Duration(r.Interval),
		Timeout:          time.Duration(r.Timeout),
		Retries:          r.Retries,
		SuccessThreshold: r.SuccessThreshold,
		FailureThreshold: r.FailureThreshold,
		ExpectedStatus:   r.ExpectedStatus,
	}
	return nil
}

// UnmarshalYAML lets deployment manifests express the rollback timeout as a
// duration string.
func (s *DeploymentSpec) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		ServiceName      string             `yaml:"service_name"`
		Image            string             `yaml:"image"`
		Tag              string             `yaml:"tag"`
		Replicas         int                `yaml:"replicas"`
		Strategy         DeploymentStrategy `yaml:"strategy"`
		ResourceLimits   ResourceLimits     `yaml:"resource_limits"`
		Env              map[string]string  `yaml:"env"`
		HealthChecks     []HealthCheck      `yaml:"health_checks"`
		Volumes          []VolumeMount      `yaml:"volumes"`
		Ports            map[int]int        `yaml:"ports"`
		Labels           map[string]string  `yaml:"labels"`
		Annotations      map[string]string  `yaml:"annotations"`
		RollbackTimeout  flexDuration       `yaml:"rollback_timeout"`
		CanaryPercentage int                `yaml:"canary_percentage"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*s = DeploymentSpec{
		ServiceName:      r.ServiceName,
		Image:            r.Image,
		Tag:              r.Tag,
		Replicas:         r.Replicas,
		Strategy:         r.Strategy,
		ResourceLimits:   r.ResourceLimits,
		Env:              r.Env,
		HealthChecks:     r.HealthChecks,
		Volumes:          r.Volumes,
		Ports:            r.Ports,
		Labels:           r.Labels,
		Annotations:      r.Annotations,
		RollbackTimeout:  time.Duration(r.RollbackTimeout),
		CanaryPercentage: r.CanaryPercentage,
	}
	return nil
}

// UnmarshalYAML lets rollout manifests express the phase, validation and
// monitor durations as duration strings.
func (c *RolloutConfig) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Strategy           RolloutStrategy   `yaml:"strategy"`
		ServiceName        string            `yaml:"service_name"`
		Spec               DeploymentSpec    `yaml:"spec"`
		Phases             []int             `yaml:"phases"`
		PhaseDuration      flexDuration      `yaml:"phase_duration"`
		ValidationDuration flexDuration      `yaml:"validation_duration"`
		MonitorInterval    flexDuration      `yaml:"monitor_interval"`
		Thresholds         RolloutMetrics    `yaml:"thresholds"`
		AutoPromote        bool              `yaml:"auto_promote"`
		AutoRollback       bool              `yaml:"auto_rollback"`
		TrafficSplitMethod string            `yaml:"traffic_split_method"`
		TargetGroups       []string          `yaml:"target_groups"`
		FeatureFlags       map[string]string `yaml:"feature_flags"`
		MetricsPolicy      MetricsPolicy     `yaml:"metrics_policy"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*c = RolloutConfig{
		Strategy:           r.Strategy,
		ServiceName:        r.ServiceName,
		Spec:               r.Spec,
		Phases:             r.Phases,
		PhaseDuration:      time.Duration(r.PhaseDuration),
		ValidationDuration: time.Duration(r.ValidationDuration),
		MonitorInterval:    time.Duration(r.MonitorInterval),
		Thresholds:         r.Thresholds,
		AutoPromote:        r.AutoPromote,
		AutoRollback:       r.AutoRollback,
		TrafficSplitMethod: r.TrafficSplitMethod,
		TargetGroups:       r.TargetGroups,
		FeatureFlags:       r.FeatureFlags,
		MetricsPolicy:      r.MetricsPolicy,
	}
	return nil
}
