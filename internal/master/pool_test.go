package master

import (
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
)

func TestWorkerPool_RegisterRespectsMax(t *testing.T) {
	p := NewWorkerPool(2, 1)
	ws := fakes("n", 3, domain.ClassNormal)

	require.NoError(t, p.Register(ws[0]))
	require.NoError(t, p.Register(ws[1]))
	require.ErrorIs(t, p.Register(ws[2]), domain.ErrPoolFull)
	require.ErrorIs(t, p.Register(ws[0]), domain.ErrAlreadyRegistered)

	st := p.Stats().Class(domain.ClassNormal)
	require.Equal(t, 2, st.Registered)
	require.Equal(t, 2, st.Idle)
	require.Zero(t, st.InFlight)
}

func TestWorkerPool_AcquireIsFIFO(t *testing.T) {
	p := NewWorkerPool(3, 0)
	ws := fakes("n", 3, domain.ClassNormal)
	for _, w := range ws {
		require.NoError(t, p.Register(w))
	}

	h, ok := p.AcquireIdle(domain.ClassNormal)
	require.True(t, ok)
	require.Same(t, ws[0], h)

	require.True(t, p.Release(h))
	require.False(t, p.Release(h), "already idle")

	var order []Handle
	for {
		h, ok := p.AcquireIdle(domain.ClassNormal)
		if !ok {
			break
		}
		order = append(order, h)
	}
	require.Equal(t, []Handle{ws[1], ws[2], ws[0]}, order, "released workers rejoin at the back")
}

func TestWorkerPool_LimitBoundsInFlight(t *testing.T) {
	p := NewWorkerPool(4, 0)
	for _, w := range fakes("n", 4, domain.ClassNormal) {
		require.NoError(t, p.Register(w))
	}

	require.Equal(t, 2, p.SetLimit(domain.ClassNormal, 2))
	_, ok := p.AcquireIdle(domain.ClassNormal)
	require.True(t, ok)
	_, ok = p.AcquireIdle(domain.ClassNormal)
	require.True(t, ok)
	_, ok = p.AcquireIdle(domain.ClassNormal)
	require.False(t, ok, "limit reached while idle workers remain")

	st := p.Stats().Class(domain.ClassNormal)
	require.Equal(t, 2, st.InFlight)
	require.Equal(t, 2, st.Idle)

	require.Equal(t, 4, p.SetLimit(domain.ClassNormal, 99), "clamped to max")
	require.Equal(t, 0, p.SetLimit(domain.ClassNormal, -3), "clamped to zero")
	require.Equal(t, 2, p.Stats().Class(domain.ClassNormal).InFlight, "lowering never preempts")
}

func TestWorkerPool_Remove(t *testing.T) {
	p := NewWorkerPool(2, 0)
	ws := fakes("n", 2, domain.ClassNormal)
	for _, w := range ws {
		require.NoError(t, p.Register(w))
	}
	busy, ok := p.AcquireIdle(domain.ClassNormal)
	require.True(t, ok)

	wasIdle, ok := p.Remove(ws[1])
	require.True(t, ok)
	require.True(t, wasIdle)

	wasIdle, ok = p.Remove(busy)
	require.True(t, ok)
	require.False(t, wasIdle)

	_, ok = p.Remove(busy)
	require.False(t, ok)
	require.False(t, p.Release(busy), "removed workers cannot be released")

	st := p.Stats().Class(domain.ClassNormal)
	require.Zero(t, st.Registered)
	require.Zero(t, st.Idle)
	require.Empty(t, p.Handles())
}

func TestWorkerPool_ClassesAreIndependent(t *testing.T) {
	p := NewWorkerPool(1, 1)
	n := newFake("n", domain.ClassNormal)
	a := newFake("a", domain.ClassAccelerated)
	require.NoError(t, p.Register(n))
	require.NoError(t, p.Register(a))

	_, ok := p.AcquireIdle(domain.ClassAccelerated)
	require.True(t, ok)
	_, ok = p.AcquireIdle(domain.ClassAccelerated)
	require.False(t, ok)
	require.True(t, p.IsIdle(n))

	require.Equal(t, []Handle{a, n}, p.Handles(), "handles follow assignment order")
	stats := p.Stats()
	require.Equal(t, "accelerated", stats.Classes[0].Name)
	require.Equal(t, "normal", stats.Classes[1].Name)
}

func TestJobTracker_Bijection(t *testing.T) {
	j := NewJobTracker()
	w1 := newFake("w1", domain.ClassNormal)
	w2 := newFake("w2", domain.ClassNormal)
	t1 := domain.Task{ID: 1}
	t2 := domain.Task{ID: 2}

	require.NoError(t, j.Track(w1, t1))
	require.ErrorIs(t, j.Track(w1, t2), domain.ErrWorkerBusy)
	require.ErrorIs(t, j.Track(w2, t1), domain.ErrTaskInFlight)
	require.NoError(t, j.Track(w2, t2))
	require.Equal(t, 2, j.Len())

	owner, ok := j.Owner(2)
	require.True(t, ok)
	require.Same(t, w2, owner)

	_, ok = j.Complete(w1, 2)
	require.False(t, ok, "only the exact pair completes")
	require.Equal(t, 2, j.Len())

	task, ok := j.Complete(w1, 1)
	require.True(t, ok)
	require.Equal(t, t1, task)
	_, ok = j.Owner(1)
	require.False(t, ok)

	task, ok = j.Drop(w2)
	require.True(t, ok)
	require.Equal(t, t2, task)
	_, ok = j.Drop(w2)
	require.False(t, ok)
	require.Zero(t, j.Len())
}
