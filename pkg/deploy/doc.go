// Package deploy implements the deployment automation layer. An Automation
// validates deployment specs, dispatches them through a container
// orchestrator, keeps per-deployment history in memory and in the durable
// store, and triggers compensating rollbacks on demand.
package deploy
