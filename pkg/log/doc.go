// Package log provides zerolog-based structured logging for Switchyard.
//
// Init configures the global Logger once at process start; components obtain
// child loggers through the With* helpers so every line carries the
// component, service, rollout, or deployment it belongs to.
package log
