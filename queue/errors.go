package queue

import "errors"

// Sentinel errors for queue operations
var (
	// ErrQueueFull indicates the event buffer is at capacity
	ErrQueueFull = errors.New("queue full")

	// ErrQueueDestroyed indicates the queue has been destroyed
	ErrQueueDestroyed = errors.New("queue destroyed")

	// ErrNilEvent indicates a nil event function was enqueued
	ErrNilEvent = errors.New("event function cannot be nil")

	// ErrStopTimeout indicates dispatchers did not stop within the timeout
	ErrStopTimeout = errors.New("timeout waiting for dispatchers to stop")

	// ErrNoSuchQueue indicates a queue index outside the group
	ErrNoSuchQueue = errors.New("queue index out of range")
)
