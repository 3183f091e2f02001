package deploy

import "context"

// MeshRegistrar registers a newly deployed service with a service mesh so
// sidecar routing picks it up. Failures are reported to the caller but a
// deployment never fails because of them.
type MeshRegistrar interface {
	Register(ctx context.Context, service, deploymentID string) error
	Deregister(ctx context.Context, service, deploymentID string) error
}

// GatewayConfigurer programs edge gateway routes for a deployed service.
type GatewayConfigurer interface {
	ConfigureRoutes(ctx context.Context, service string, ports map[int]int) error
}

// NoopMesh is the default MeshRegistrar when no mesh is configured.
type NoopMesh struct{}

func (NoopMesh) Register(ctx context.Context, service, deploymentID string) error   { return nil }
func (NoopMesh) Deregister(ctx context.Context, service, deploymentID string) error { return nil }

// NoopGateway is the default GatewayConfigurer when no gateway is configured.
type NoopGateway struct{}

func (NoopGateway) ConfigureRoutes(ctx context.Context, service string, ports map[int]int) error {
	return nil
}
