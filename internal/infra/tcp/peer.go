// internal/infra/tcp/peer.go
package tcp

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/metrics"
	"distributed-fractal/internal/protocol"
)

const (
	flushTimeout = time.Second
	// framesPerSlot is what the dispatcher can queue for one worker before it
	// replies: an assign and a quit.
	framesPerSlot = 2
)

type outFrame struct {
	slot uint32
	msg  protocol.Message
}

// peer is one worker-node connection. Every worker slot announced on it
// becomes a remoteHandle registered with the inbox.
type peer struct {
	id        string
	conn      net.Conn
	inbox     master.Inbox
	queueSize int
	wake      chan struct{}
	closed    chan struct{}
	once      sync.Once
	logger    *slog.Logger

	mu        sync.Mutex
	handles   map[uint32]*remoteHandle
	announced int
	pending   []outFrame
}

func newPeer(conn net.Conn, inbox master.Inbox, queueSize int, logger *slog.Logger) *peer {
	id := uuid.NewString()
	return &peer{
		id:        id,
		conn:      conn,
		inbox:     inbox,
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
		handles:   make(map[uint32]*remoteHandle),
		logger:    logger.With("peer_id", id, "remote_addr", conn.RemoteAddr().String()),
	}
}

// enqueue never blocks. The queue holds queueSize frames plus framesPerSlot
// for every announced slot; beyond that the node stopped reading and the
// connection is dropped. Its workers are reported gone by the reader.
func (p *peer) enqueue(slot uint32, msg protocol.Message) {
	select {
	case <-p.closed:
		return
	default:
	}

	p.mu.Lock()
	limit := p.queueSize + framesPerSlot*p.announced
	if len(p.pending) >= limit {
		p.mu.Unlock()
		p.logger.Warn("send queue full, dropping connection", "slot", slot, "tag", msg.Tag(), "limit", limit)
		p.close()
		return
	}
	p.pending = append(p.pending, outFrame{slot: slot, msg: msg})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) take() []outFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.pending
	p.pending = nil
	return frames
}

func (p *peer) readLoop() {
	defer p.release()
	r := protocol.NewReader(p.conn)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			if protocol.IsSerializationError(err) {
				metrics.DecodeErrorsTotal.WithLabelValues("wire").Inc()
				p.logger.Warn("dropping undecodable frame", "slot", f.Slot, "error", err)
				continue
			}
			select {
			case <-p.closed:
			default:
				p.logger.Info("connection closed", "error", err)
			}
			return
		}
		p.dispatch(f)
	}
}

func (p *peer) dispatch(f protocol.Frame) {
	p.mu.Lock()
	h := p.handles[f.Slot]
	p.mu.Unlock()

	switch m := f.Msg.(type) {
	case protocol.NewWorker:
		if h != nil {
			p.inbox.Unexpected(h, m)
			return
		}
		h = &remoteHandle{
			id:    "remote-" + uuid.NewString(),
			slot:  f.Slot,
			class: domain.ClassOf(m.Accelerated),
			peer:  p,
		}
		p.mu.Lock()
		p.handles[f.Slot] = h
		p.announced++
		p.mu.Unlock()
		p.logger.Info("remote worker announced", "slot", f.Slot, "worker", h.id, "class", h.class)
		p.inbox.Register(h)
	case protocol.Result:
		if h == nil {
			p.inbox.Unexpected(nil, m)
			return
		}
		if m.Accelerated != h.class.IsAccelerated() {
			p.logger.Warn("result class flag differs from announced class", "worker", h.id, "task_id", m.TaskID)
		}
		p.inbox.Result(h, m.TaskID, m.Payload)
	case protocol.Exit:
		if h == nil {
			p.inbox.Unexpected(nil, m)
			return
		}
		p.logger.Info("remote worker exited", "worker", h.id, "reason", m.Reason)
		p.forget(h)
		p.inbox.WorkerGone(h)
	case protocol.Init:
		p.inbox.Init(m.Sink)
	case protocol.Quit:
		p.inbox.Shutdown()
	default:
		if h == nil {
			p.inbox.Unexpected(nil, f.Msg)
			return
		}
		p.inbox.Unexpected(h, f.Msg)
	}
}

// writeLoop owns closing the socket: frames queued before close are flushed first.
func (p *peer) writeLoop() {
	defer p.conn.Close()
	for {
		select {
		case <-p.wake:
			for _, f := range p.take() {
				if err := protocol.WriteFrame(p.conn, f.slot, f.msg); err != nil {
					p.logger.Warn("write failed, dropping connection", "error", err)
					p.close()
					return
				}
			}
		case <-p.closed:
			p.flush()
			return
		}
	}
}

// flush writes what is still queued; close set the write deadline.
func (p *peer) flush() {
	for _, f := range p.take() {
		if err := protocol.WriteFrame(p.conn, f.slot, f.msg); err != nil {
			return
		}
	}
}

// forget detaches h from the connection; it reports whether h was attached.
func (p *peer) forget(h *remoteHandle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[h.slot] != h {
		return false
	}
	delete(p.handles, h.slot)
	return true
}

// close stops the connection. It may run on any goroutine, including the
// coordinator's through Send, so it only signals the writer and bounds its
// remaining writes; the socket is closed by the writer.
func (p *peer) close() {
	p.once.Do(func() {
		close(p.closed)
		p.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
	})
}

// release runs on the reader goroutine once the connection is down and
// reports every still attached worker gone.
func (p *peer) release() {
	p.close()

	p.mu.Lock()
	gone := make([]*remoteHandle, 0, len(p.handles))
	for slot, h := range p.handles {
		gone = append(gone, h)
		delete(p.handles, slot)
	}
	p.mu.Unlock()

	for _, h := range gone {
		p.inbox.WorkerGone(h)
	}
	p.logger.Info("peer closed", "workers_gone", len(gone))
}

// remoteHandle addresses one worker slot of a peer connection.
type remoteHandle struct {
	id     string
	slot   uint32
	class  domain.WorkerClass
	peer   *peer
	closed atomic.Bool
}

var _ master.Handle = (*remoteHandle)(nil)

func (h *remoteHandle) ID() string { return h.id }

func (h *remoteHandle) Class() domain.WorkerClass { return h.class }

func (h *remoteHandle) Send(msg protocol.Message) {
	if h.closed.Load() {
		return
	}
	h.peer.enqueue(h.slot, msg)
}

// Close detaches the slot. A quit sent before Close is still flushed.
func (h *remoteHandle) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.peer.forget(h)
}
