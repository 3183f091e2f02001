// Package api serves the deployment and rollout operation surface as an
// HTTP JSON API, alongside /metrics, /health and /ready endpoints and a
// newline-delimited JSON event stream.
package api
