// Package tracing bootstraps the OpenTelemetry tracer provider used to trace
// deployment dispatch and rollout execution. Export goes over OTLP/HTTP when
// an endpoint is configured; otherwise spans are no-ops.
package tracing
