// internal/master/pool.go
package master

import (
	"fmt"
	"slices"

	"distributed-fractal/internal/domain"
)

// ClassStats is a snapshot of one class of the pool.
type ClassStats struct {
	Class      domain.WorkerClass `json:"-"`
	Name       string             `json:"class"`
	Max        int                `json:"max"`
	Limit      int                `json:"limit"`
	Registered int                `json:"registered"`
	Idle       int                `json:"idle"`
	InFlight   int                `json:"in_flight"`
}

// PoolStats is a snapshot of every class, in assignment order.
type PoolStats struct {
	Classes []ClassStats `json:"classes"`
}

// Class returns the stats of one class.
func (s PoolStats) Class(c domain.WorkerClass) ClassStats {
	for _, cs := range s.Classes {
		if cs.Class == c {
			return cs
		}
	}
	return ClassStats{Class: c, Name: c.String()}
}

type classPool struct {
	max   int
	limit int
	// idle is served from the front; released workers rejoin at the back.
	idle []Handle
	// members keeps registration order.
	members []Handle
}

func (p *classPool) inFlight() int { return len(p.members) - len(p.idle) }

// WorkerPool tracks registered and idle workers per class against max and limit.
// It is owned by the coordinator goroutine and not safe for concurrent use.
type WorkerPool struct {
	classes map[domain.WorkerClass]*classPool
}

// NewWorkerPool creates a pool; every class starts with limit == max.
func NewWorkerPool(maxNormal, maxAccelerated int) *WorkerPool {
	return &WorkerPool{
		classes: map[domain.WorkerClass]*classPool{
			domain.ClassNormal:      {max: maxNormal, limit: maxNormal},
			domain.ClassAccelerated: {max: maxAccelerated, limit: maxAccelerated},
		},
	}
}

func (p *WorkerPool) class(c domain.WorkerClass) *classPool {
	cp, ok := p.classes[c]
	if !ok {
		// unknown classes get an empty pool that admits nobody
		cp = &classPool{}
		p.classes[c] = cp
	}
	return cp
}

// Register admits h into the idle queue of its class.
func (p *WorkerPool) Register(h Handle) error {
	cp := p.class(h.Class())
	if slices.Contains(cp.members, h) {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, h.ID())
	}
	if len(cp.members) >= cp.max {
		return fmt.Errorf("%w: %s has %d of %d workers", domain.ErrPoolFull, h.Class(), len(cp.members), cp.max)
	}
	cp.members = append(cp.members, h)
	cp.idle = append(cp.idle, h)
	return nil
}

// AcquireIdle pops the first idle worker of a class, if the class is under its limit.
func (p *WorkerPool) AcquireIdle(c domain.WorkerClass) (Handle, bool) {
	cp := p.class(c)
	if len(cp.idle) == 0 || cp.inFlight() >= cp.limit {
		return nil, false
	}
	h := cp.idle[0]
	cp.idle[0] = nil
	cp.idle = cp.idle[1:]
	return h, true
}

// Release puts an acquired worker back at the end of its idle queue.
// It returns false if h is not registered or already idle.
func (p *WorkerPool) Release(h Handle) bool {
	cp := p.class(h.Class())
	if !slices.Contains(cp.members, h) || slices.Contains(cp.idle, h) {
		return false
	}
	cp.idle = append(cp.idle, h)
	return true
}

// Remove forgets h. ok is false if h was not registered.
func (p *WorkerPool) Remove(h Handle) (wasIdle, ok bool) {
	cp := p.class(h.Class())
	i := slices.Index(cp.members, h)
	if i < 0 {
		return false, false
	}
	cp.members = slices.Delete(cp.members, i, i+1)
	if j := slices.Index(cp.idle, h); j >= 0 {
		cp.idle = slices.Delete(cp.idle, j, j+1)
		wasIdle = true
	}
	return wasIdle, true
}

// SetLimit sets the assignable ceiling of a class, clamped to [0, max], and
// returns the applied value. Workers already in flight are not affected.
func (p *WorkerPool) SetLimit(c domain.WorkerClass, limit int) int {
	cp := p.class(c)
	cp.limit = max(0, min(limit, cp.max))
	return cp.limit
}

// IsIdle reports whether h is in the idle queue of its class.
func (p *WorkerPool) IsIdle(h Handle) bool {
	return slices.Contains(p.class(h.Class()).idle, h)
}

// Handles returns every registered worker, classes in assignment order, each in registration order.
func (p *WorkerPool) Handles() []Handle {
	var out []Handle
	for _, c := range domain.AssignmentOrder {
		out = append(out, p.class(c).members...)
	}
	return out
}

// Stats returns a snapshot of every class.
func (p *WorkerPool) Stats() PoolStats {
	stats := PoolStats{Classes: make([]ClassStats, 0, len(domain.AssignmentOrder))}
	for _, c := range domain.AssignmentOrder {
		cp := p.class(c)
		stats.Classes = append(stats.Classes, ClassStats{
			Class:      c,
			Name:       c.String(),
			Max:        cp.max,
			Limit:      cp.limit,
			Registered: len(cp.members),
			Idle:       len(cp.idle),
			InFlight:   cp.inFlight(),
		})
	}
	return stats
}
