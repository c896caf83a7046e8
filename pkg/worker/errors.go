package worker

import "errors"

// Pool state errors. Callers match these with errors.Is; a submitter
// seeing ErrQueueFull applies backpressure rather than dropping work.
var (
	ErrPoolNotStarted = errors.New("worker pool not started")

	ErrPoolStopped = errors.New("worker pool stopped")

	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	ErrQueueFull = errors.New("worker pool queue full")

	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout means workers were still mid-task when the stop
	// deadline passed.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
