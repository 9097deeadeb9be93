// internal/master/jobs.go
package master

import (
	"fmt"

	"distributed-fractal/internal/domain"
)

// JobTracker maps in-flight tasks to their workers, one task per worker and
// one worker per task. It is owned by the coordinator goroutine.
type JobTracker struct {
	byHandle map[Handle]domain.Task
	byTask   map[uint32]Handle
}

func NewJobTracker() *JobTracker {
	return &JobTracker{
		byHandle: make(map[Handle]domain.Task),
		byTask:   make(map[uint32]Handle),
	}
}

// Track records that h now holds task.
func (j *JobTracker) Track(h Handle, task domain.Task) error {
	if cur, ok := j.byHandle[h]; ok {
		return fmt.Errorf("%w: %s holds task %d", domain.ErrWorkerBusy, h.ID(), cur.ID)
	}
	if owner, ok := j.byTask[task.ID]; ok {
		return fmt.Errorf("%w: task %d is held by %s", domain.ErrTaskInFlight, task.ID, owner.ID())
	}
	j.byHandle[h] = task
	j.byTask[task.ID] = h
	return nil
}

// Complete removes the entry of h if it holds exactly taskID.
func (j *JobTracker) Complete(h Handle, taskID uint32) (domain.Task, bool) {
	task, ok := j.byHandle[h]
	if !ok || task.ID != taskID {
		return domain.Task{}, false
	}
	delete(j.byHandle, h)
	delete(j.byTask, taskID)
	return task, true
}

// Drop removes whatever h holds.
func (j *JobTracker) Drop(h Handle) (domain.Task, bool) {
	task, ok := j.byHandle[h]
	if !ok {
		return domain.Task{}, false
	}
	delete(j.byHandle, h)
	delete(j.byTask, task.ID)
	return task, true
}

// Lookup returns the task held by h.
func (j *JobTracker) Lookup(h Handle) (domain.Task, bool) {
	task, ok := j.byHandle[h]
	return task, ok
}

// Owner returns the worker holding taskID.
func (j *JobTracker) Owner(taskID uint32) (Handle, bool) {
	h, ok := j.byTask[taskID]
	return h, ok
}

func (j *JobTracker) Len() int { return len(j.byHandle) }
