// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrUnknownWorkerClass is returned when a class name cannot be parsed.
	ErrUnknownWorkerClass = errors.New("unknown worker class")

	// ErrPoolFull is returned when a class already holds max registered workers.
	ErrPoolFull = errors.New("worker pool is full")
	// ErrAlreadyRegistered is returned when a handle registers twice.
	ErrAlreadyRegistered = errors.New("worker already registered")

	// ErrWorkerBusy is returned when a worker already holds a task.
	ErrWorkerBusy = errors.New("worker already has a task in flight")
	// ErrTaskInFlight is returned when a task id is already assigned to another worker.
	ErrTaskInFlight = errors.New("task already in flight")

	// ErrStopped is returned by coordinator calls after it reached the Stopped state.
	ErrStopped = errors.New("coordinator stopped")
)
