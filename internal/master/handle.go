// internal/master/handle.go
package master

import (
	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/protocol"
)

// Handle is an opaque reference to one worker, local or remote.
// Handles are compared by identity only.
type Handle interface {
	// ID is unique per handle and only used for logs and metrics.
	ID() string
	Class() domain.WorkerClass
	// Send must not block. Delivery failures surface later as WorkerGone.
	Send(msg protocol.Message)
	// Close releases the transport behind the handle. It is idempotent.
	Close()
}

// Inbox is the event surface transports use to reach the coordinator.
type Inbox interface {
	Register(h Handle)
	Result(h Handle, taskID uint32, payload []byte)
	WorkerGone(h Handle)
	Init(sink string)
	Shutdown()
	Unexpected(h Handle, msg protocol.Message)
}
