package domain

import "fmt"

// WorkerClass distinguishes CPU workers from accelerated (GPU-class) workers.
// It affects capacity accounting and the execution path, never the message shape.
type WorkerClass int

const (
	ClassNormal WorkerClass = iota
	ClassAccelerated
)

// AssignmentOrder is the order in which classes are served by an assignment pass.
var AssignmentOrder = []WorkerClass{ClassAccelerated, ClassNormal}

func (c WorkerClass) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassAccelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// IsAccelerated reports whether c is the accelerated class.
func (c WorkerClass) IsAccelerated() bool { return c == ClassAccelerated }

// ClassOf maps the wire flag to a class.
func ClassOf(accelerated bool) WorkerClass {
	if accelerated {
		return ClassAccelerated
	}
	return ClassNormal
}

// ParseWorkerClass parses "normal" or "accelerated" and their aliases "cpu",
// "gpu" and "opencl".
func ParseWorkerClass(s string) (WorkerClass, error) {
	switch s {
	case "normal", "cpu":
		return ClassNormal, nil
	case "accelerated", "gpu", "opencl":
		return ClassAccelerated, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWorkerClass, s)
}
