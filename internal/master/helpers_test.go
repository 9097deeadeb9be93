package master

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/protocol"
	"distributed-fractal/internal/stream"
)

type fakeHandle struct {
	id    string
	class domain.WorkerClass

	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
}

func newFake(id string, class domain.WorkerClass) *fakeHandle {
	return &fakeHandle{id: id, class: class}
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Class() domain.WorkerClass { return h.class }

func (h *fakeHandle) Send(msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) messages() []protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Message(nil), h.sent...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// assigned returns the task ids of every assign message received, in order.
func (h *fakeHandle) assigned() []uint32 {
	var ids []uint32
	for _, m := range h.messages() {
		if a, ok := m.(protocol.Assign); ok {
			ids = append(ids, a.TaskID)
		}
	}
	return ids
}

func (h *fakeHandle) lastAssigned(t *testing.T) uint32 {
	t.Helper()
	ids := h.assigned()
	require.NotEmpty(t, ids, "worker %s has no assignment", h.id)
	return ids[len(ids)-1]
}

func (h *fakeHandle) gotQuit() bool {
	for _, m := range h.messages() {
		if _, ok := m.(protocol.Quit); ok {
			return true
		}
	}
	return false
}

type fakeSink struct {
	name string

	mu        sync.Mutex
	delivered map[uint32]int
	doneCalls int
	doneTotal uint32
}

func newFakeSink(name string) *fakeSink {
	return &fakeSink{name: name, delivered: make(map[uint32]int)}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(taskID uint32, _ image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[taskID]++
	return nil
}

func (s *fakeSink) Done(total uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneCalls++
	s.doneTotal = total
}

func (s *fakeSink) snapshot() (map[uint32]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]int, len(s.delivered))
	for k, v := range s.delivered {
		out[k] = v
	}
	return out, s.doneCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	b, err := fractal.Encode(img)
	require.NoError(t, err)
	return b
}

func testStream(t *testing.T, tasks uint32) *stream.RequestStream {
	t.Helper()
	s, err := stream.New(stream.DefaultConfig(8, 8, 16, tasks))
	require.NoError(t, err)
	return s
}

func newTestCoordinator(t *testing.T, tasks uint32, maxNormal, maxAccelerated int) (*Coordinator, *fakeSink) {
	t.Helper()
	sink := newFakeSink("test")
	cfg := Config{MaxNormal: maxNormal, MaxAccelerated: maxAccelerated}
	return NewCoordinator(cfg, testStream(t, tasks), []domain.DisplaySink{sink}, testLogger()), sink
}

func fakes(prefix string, n int, class domain.WorkerClass) []*fakeHandle {
	out := make([]*fakeHandle, n)
	for i := range out {
		out[i] = newFake(fmt.Sprintf("%s-%d", prefix, i), class)
	}
	return out
}
