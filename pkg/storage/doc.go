// Package storage provides BoltDB-backed persistence for deployment history
// and finished rollouts. Records are stored as JSON in per-type buckets; the
// automation and rollout layers serve reads from memory and use the store as
// a durable archive across restarts.
package storage
