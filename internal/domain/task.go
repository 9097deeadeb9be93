// internal/domain/task.go
package domain

import "fmt"

// BoundingBox is the region of the complex plane covered by a task.
type BoundingBox struct {
	MinRe float32 `json:"min_re"`
	MaxRe float32 `json:"max_re"`
	MinIm float32 `json:"min_im"`
	MaxIm float32 `json:"max_im"`
}

// Task is one unit of render work: a tile of a frame. It is immutable once produced.
type Task struct {
	ID         uint32      `json:"id"`
	Width      uint32      `json:"width"`
	Height     uint32      `json:"height"`
	Iterations uint32      `json:"iterations"`
	Box        BoundingBox `json:"box"`
}

// Validate checks that the task describes a renderable image.
func (t Task) Validate() error {
	if t.Width == 0 || t.Height == 0 {
		return fmt.Errorf("task %d: image size %dx%d is empty", t.ID, t.Width, t.Height)
	}
	if t.Iterations == 0 {
		return fmt.Errorf("task %d: iterations cannot be zero", t.ID)
	}
	if t.Box.MinRe >= t.Box.MaxRe || t.Box.MinIm >= t.Box.MaxIm {
		return fmt.Errorf("task %d: bounding box %+v is degenerate", t.ID, t.Box)
	}
	return nil
}
