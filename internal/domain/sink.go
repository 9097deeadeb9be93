// internal/domain/sink.go
package domain

import "image"

// DisplaySink receives decoded images keyed by task id and the terminal done signal.
// Implementations are called from the coordinator goroutine only.
type DisplaySink interface {
	// Name identifies the sink in logs and in the init message.
	Name() string
	// Deliver hands over the decoded image of a completed task.
	Deliver(taskID uint32, img image.Image) error
	// Done is called exactly once, after the last result of the stream.
	Done(total uint32)
}
