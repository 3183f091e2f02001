// Package events provides an in-memory broker broadcasting deployment and
// rollout lifecycle events. Publish never blocks the publisher; subscribers
// with full buffers miss events rather than stalling a rollout.
package events
