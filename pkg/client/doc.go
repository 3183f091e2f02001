// Package client is the HTTP client for the switchyard API, used by the
// CLI and by programmatic callers.
package client
