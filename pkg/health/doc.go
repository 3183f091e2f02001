// Package health implements HTTP and TCP probes against deployed service
// versions. Blue-green rollouts use RunChecks to validate the green
// deployment before any traffic is shifted; the deployment automation uses
// ValidateEndpoint to reject malformed health check specs before dispatch.
package health
