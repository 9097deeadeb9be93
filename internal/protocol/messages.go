// internal/protocol/messages.go
package protocol

import (
	"fmt"

	"distributed-fractal/internal/domain"
)

// Tag identifies a message type on the wire.
type Tag uint8

const (
	TagNewWorker Tag = iota + 1
	TagAssign
	TagResult
	TagGetWorkers
	TagInit
	TagDone
	TagQuit
	TagExit
)

func (t Tag) String() string {
	switch t {
	case TagNewWorker:
		return "new_worker"
	case TagAssign:
		return "assign"
	case TagResult:
		return "result"
	case TagGetWorkers:
		return "get_workers"
	case TagInit:
		return "init"
	case TagDone:
		return "done"
	case TagQuit:
		return "quit"
	case TagExit:
		return "exit"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Message is one entry of the message catalog.
type Message interface {
	Tag() Tag
	encode(e *encoder)
}

// NewWorker announces a worker and its class.
type NewWorker struct {
	Accelerated bool
}

// Assign hands one task to one worker.
type Assign struct {
	Width      uint32
	Height     uint32
	Iterations uint32
	TaskID     uint32
	MinRe      float32
	MaxRe      float32
	MinIm      float32
	MaxIm      float32
}

// Result carries the encoded image of a finished task.
type Result struct {
	TaskID      uint32
	Payload     []byte
	Accelerated bool
}

// GetWorkers asks a peer to announce its workers.
type GetWorkers struct{}

// Init names the display sink the dispatcher should deliver to.
type Init struct {
	Sink string
}

// Done reports that every task of the stream has a result.
type Done struct {
	Total uint32
}

// Quit asks the receiver to stop.
type Quit struct{}

// ExitReason explains why a worker stopped.
type ExitReason uint32

const (
	ExitRemoteUnreachable ExitReason = iota + 1
	ExitRenderFailed
	ExitShutdown
)

func (r ExitReason) String() string {
	switch r {
	case ExitRemoteUnreachable:
		return "remote_unreachable"
	case ExitRenderFailed:
		return "render_failed"
	case ExitShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

// Exit reports that a worker stopped.
type Exit struct {
	Reason ExitReason
}

func (NewWorker) Tag() Tag { return TagNewWorker }
func (Assign) Tag() Tag { return TagAssign }
func (Result) Tag() Tag { return TagResult }
func (GetWorkers) Tag() Tag { return TagGetWorkers }
func (Init) Tag() Tag { return TagInit }
func (Done) Tag() Tag { return TagDone }
func (Quit) Tag() Tag { return TagQuit }
func (Exit) Tag() Tag { return TagExit }

// AssignTask builds the assign message for a task.
func AssignTask(t domain.Task) Assign {
	return Assign{
		Width:      t.Width,
		Height:     t.Height,
		Iterations: t.Iterations,
		TaskID:     t.ID,
		MinRe:      t.Box.MinRe,
		MaxRe:      t.Box.MaxRe,
		MinIm:      t.Box.MinIm,
		MaxIm:      t.Box.MaxIm,
	}
}

// Task returns the task described by the message.
func (a Assign) Task() domain.Task {
	return domain.Task{
		ID:         a.TaskID,
		Width:      a.Width,
		Height:     a.Height,
		Iterations: a.Iterations,
		Box: domain.BoundingBox{
			MinRe: a.MinRe,
			MaxRe: a.MaxRe,
			MinIm: a.MinIm,
			MaxIm: a.MaxIm,
		},
	}
}
