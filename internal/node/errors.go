package node

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkers is returned when a node is started without executors.
	ErrNoWorkers = errors.New("node needs at least one worker")
	// ErrTooManyAccelerated is returned when more than one accelerated executor is configured.
	ErrTooManyAccelerated = errors.New("a node hosts at most one accelerated worker")
)

// ConnectionError reports that the link to the dispatcher could not be
// established or was lost. Local workers have been shut down when it is returned.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
