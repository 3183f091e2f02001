// Package config loads and validates the switchyard server configuration.
package config
