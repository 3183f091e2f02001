// Package flags toggles feature flags used as an alternative traffic
// shaping mechanism for rollouts.
package flags
