// Package collector defines the MetricsCollector boundary the rollout engine
// polls during monitoring windows, plus a static in-memory implementation.
// Backend-specific collectors (Prometheus, SigNoz) are maintained out of
// tree and must swallow transport failures, reporting them as empty maps.
package collector
