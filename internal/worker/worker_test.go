package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assignMsg(id, w, h, iter uint32) protocol.Assign {
	return protocol.AssignTask(domain.Task{
		ID: id, Width: w, Height: h, Iterations: iter,
		Box: domain.BoundingBox{MinRe: -2, MaxRe: 1, MinIm: -1, MaxIm: 1},
	})
}

func startWorker(t *testing.T, exec Executor) (*Worker, <-chan protocol.Message, context.CancelFunc) {
	t.Helper()
	replies := make(chan protocol.Message, 16)
	w := New("w-test", exec, func(m protocol.Message) { replies <- m }, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return w, replies, cancel
}

func nextReply(t *testing.T, replies <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case m := <-replies:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no reply from worker")
		return nil
	}
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_NormalRendersAndReplies(t *testing.T) {
	w, replies, _ := startWorker(t, NewNormalExecutor())

	require.NoError(t, w.Deliver(assignMsg(5, 16, 12, 40)))
	res, ok := nextReply(t, replies).(protocol.Result)
	require.True(t, ok)
	require.Equal(t, uint32(5), res.TaskID)
	require.False(t, res.Accelerated)

	img, err := fractal.Decode(res.Payload)
	require.NoError(t, err)
	require.Equal(t, 16, img.Bounds().Dx())
	require.Equal(t, 12, img.Bounds().Dy())

	require.NoError(t, w.Deliver(protocol.Quit{}))
	waitDone(t, w)
	require.Equal(t, protocol.ExitShutdown, w.Reason())
	require.Error(t, w.Deliver(assignMsg(6, 16, 12, 40)), "stopped workers take no mail")
}

func TestWorker_AcceleratedCachesKernel(t *testing.T) {
	exec := NewAcceleratedExecutor(fractal.NewProgram(0, 2))
	w, replies, _ := startWorker(t, exec)

	shapes := []struct {
		w, h, iter   uint32
		wantCompiles int
	}{
		{16, 16, 30, 1},
		{16, 16, 30, 1},
		{16, 16, 31, 2},
		{16, 16, 31, 2},
		{20, 16, 31, 3},
		{16, 16, 30, 4},
	}
	for i, s := range shapes {
		require.NoError(t, w.Deliver(assignMsg(uint32(i), s.w, s.h, s.iter)))
		res, ok := nextReply(t, replies).(protocol.Result)
		require.True(t, ok)
		require.Equal(t, uint32(i), res.TaskID)
		require.True(t, res.Accelerated)
		require.Equal(t, s.wantCompiles, exec.Compiles(), "assign %d", i)
	}
}

func TestWorker_AcceleratedMatchesNormal(t *testing.T) {
	task := assignMsg(1, 24, 18, 50).Task()

	normal, err := NewNormalExecutor().Execute(context.Background(), task)
	require.NoError(t, err)
	accel, err := NewAcceleratedExecutor(fractal.NewProgram(0, 3)).Execute(context.Background(), task)
	require.NoError(t, err)

	a, err := fractal.Decode(normal)
	require.NoError(t, err)
	b, err := fractal.Decode(accel)
	require.NoError(t, err)
	for y := 0; y < 18; y++ {
		for x := 0; x < 24; x++ {
			require.Equal(t, a.At(x, y), b.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestWorker_RenderFailureExits(t *testing.T) {
	w, replies, _ := startWorker(t, NewNormalExecutor())

	require.NoError(t, w.Deliver(assignMsg(9, 0, 10, 10)))
	require.Equal(t, protocol.Exit{Reason: protocol.ExitRenderFailed}, nextReply(t, replies))
	waitDone(t, w)
	require.Equal(t, protocol.ExitRenderFailed, w.Reason())
}

func TestWorker_ExitCarriesReason(t *testing.T) {
	w, replies, _ := startWorker(t, NewNormalExecutor())

	require.NoError(t, w.Deliver(protocol.Done{Total: 3}))
	require.NoError(t, w.Deliver(protocol.Exit{Reason: protocol.ExitRemoteUnreachable}))
	waitDone(t, w)
	require.Equal(t, protocol.ExitRemoteUnreachable, w.Reason())
	require.Empty(t, replies, "unexpected messages get no reply")
}

func TestWorker_CancelStops(t *testing.T) {
	w, _, cancel := startWorker(t, NewNormalExecutor())
	cancel()
	waitDone(t, w)
	require.Equal(t, protocol.ExitShutdown, w.Reason())
}

type fakeInbox struct {
	mu         sync.Mutex
	registered []master.Handle
	results    chan uint32
	gone       chan master.Handle
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{results: make(chan uint32, 8), gone: make(chan master.Handle, 8)}
}

func (f *fakeInbox) Register(h master.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, h)
}

func (f *fakeInbox) Result(_ master.Handle, taskID uint32, _ []byte) { f.results <- taskID }
func (f *fakeInbox) WorkerGone(h master.Handle) { f.gone <- h }
func (f *fakeInbox) Init(string) {}
func (f *fakeInbox) Shutdown() {}
func (f *fakeInbox) Unexpected(master.Handle, protocol.Message) {}

func TestLocalHandle_Lifecycle(t *testing.T) {
	inbox := newFakeInbox()
	h := StartLocal(context.Background(), NewNormalExecutor(), inbox, testLogger())

	inbox.mu.Lock()
	require.Equal(t, []master.Handle{h}, inbox.registered)
	inbox.mu.Unlock()
	require.Equal(t, domain.ClassNormal, h.Class())
	require.Contains(t, h.ID(), "local-")

	h.Send(assignMsg(11, 8, 8, 10))
	select {
	case id := <-inbox.results:
		require.Equal(t, uint32(11), id)
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
	}

	h.Close()
	h.Close()
	select {
	case gone := <-inbox.gone:
		require.Same(t, h, gone)
	case <-time.After(5 * time.Second):
		t.Fatal("worker gone not reported")
	}
	<-h.Done()
}
