// internal/node/node.go
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"distributed-fractal/internal/metrics"
	"distributed-fractal/internal/protocol"
	"distributed-fractal/internal/worker"
)

// Node hosts local workers and links them to one dispatcher. Worker i is
// addressed by slot i+1 on the connection; slot 0 is the connection itself.
type Node struct {
	id      string
	workers []*worker.Worker
	cancel  context.CancelFunc
	logger  *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// Start runs one worker per executor. The workers idle until a dispatcher is
// reached through Connect or Publish.
func Start(ctx context.Context, execs []worker.Executor, logger *slog.Logger) (*Node, error) {
	if len(execs) == 0 {
		return nil, ErrNoWorkers
	}
	accelerated := 0
	for _, e := range execs {
		if e.Class().IsAccelerated() {
			accelerated++
		}
	}
	if accelerated > 1 {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyAccelerated, accelerated)
	}

	id := uuid.NewString()
	n := &Node{
		id:     id,
		logger: logger.With("component", "node", "node_id", id),
	}
	ctx, n.cancel = context.WithCancel(ctx)
	for i, e := range execs {
		slot := uint32(i + 1)
		w := worker.New(fmt.Sprintf("%s/%d", id, slot), e, n.reply(slot), logger)
		n.workers = append(n.workers, w)
		go w.Run(ctx)
	}
	n.logger.Info("node started", "workers", len(execs), "accelerated", accelerated)
	return n, nil
}

func (n *Node) ID() string { return n.id }

// Workers returns the hosted workers in slot order.
func (n *Node) Workers() []*worker.Worker { return n.workers }

// Connect dials the dispatcher at addr and serves it until every worker stopped.
func (n *Node) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cerr := &ConnectionError{Op: "connect", Addr: addr, Err: err}
		n.logger.Error("unable to connect to dispatcher", "addr", addr, "error", err)
		n.EmergencyShutdown()
		return cerr
	}
	return n.serve(ctx, conn, protocol.NewReader(conn))
}

// PublishAddr listens on addr and waits for a dispatcher, see Publish.
func (n *Node) PublishAddr(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cerr := &ConnectionError{Op: "publish", Addr: addr, Err: err}
		n.logger.Error("unable to publish workers", "addr", addr, "error", err)
		n.EmergencyShutdown()
		return cerr
	}
	return n.Publish(ctx, ln)
}

// Publish accepts connections on ln until one asks for the workers with
// GetWorkers, then serves that dispatcher. ln is closed on return.
func (n *Node) Publish(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	n.logger.Info("publishing workers", "addr", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				n.Stop()
				return nil
			}
			cerr := &ConnectionError{Op: "accept", Addr: ln.Addr().String(), Err: err}
			n.logger.Error("publishing failed", "error", err)
			n.EmergencyShutdown()
			return cerr
		}
		r := protocol.NewReader(conn)
		if _, err := r.Expect(protocol.TagGetWorkers); err != nil {
			n.logger.Warn("ignoring connection without worker request", "remote_addr", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			continue
		}
		return n.serve(ctx, conn, r)
	}
}

// serve announces the workers on conn and routes dispatcher frames to them.
// It returns nil once every worker stopped or ctx ended, and a
// *ConnectionError when the dispatcher is lost first.
func (n *Node) serve(ctx context.Context, conn net.Conn, r *protocol.Reader) error {
	addr := conn.RemoteAddr().String()
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	n.logger.Info("linked to dispatcher", "addr", addr)

	for i, w := range n.workers {
		n.send(uint32(i+1), protocol.NewWorker{Accelerated: w.Executor().Class().IsAccelerated()})
	}

	stopped := make(chan struct{})
	go func() {
		n.Wait()
		close(stopped)
		conn.Close()
	}()
	unwatch := context.AfterFunc(ctx, func() { conn.Close() })
	defer unwatch()

	// slots already told to quit or exit; the dispatcher may close right after
	told := make([]bool, len(n.workers))
	for {
		f, err := r.ReadFrame()
		if err == nil {
			if n.route(f) {
				told[f.Slot-1] = true
			}
			continue
		}
		if protocol.IsSerializationError(err) {
			metrics.DecodeErrorsTotal.WithLabelValues("wire").Inc()
			n.logger.Warn("dropping undecodable frame", "slot", f.Slot, "error", err)
			continue
		}

		select {
		case <-stopped:
			n.logger.Info("all workers stopped, leaving dispatcher", "addr", addr)
			return nil
		default:
		}
		if n.leaving(told) {
			n.Wait()
			n.logger.Info("dispatcher closed after stopping every worker", "addr", addr)
			return nil
		}
		if ctx.Err() != nil {
			n.Stop()
			return nil
		}
		n.logger.Error("lost dispatcher", "addr", addr, "error", err)
		n.EmergencyShutdown()
		return &ConnectionError{Op: "read", Addr: addr, Err: err}
	}
}

// route hands f to its worker and reports whether that worker was told to stop.
func (n *Node) route(f protocol.Frame) bool {
	if f.Slot == 0 || int(f.Slot) > len(n.workers) {
		n.logger.Warn("message for unknown slot", "slot", f.Slot, "tag", f.Msg.Tag())
		return false
	}
	w := n.workers[f.Slot-1]
	switch m := f.Msg.(type) {
	case protocol.Assign:
		if err := w.Deliver(m); err != nil {
			n.logger.Warn("failed to deliver message", "slot", f.Slot, "tag", m.Tag(), "error", err)
		}
	case protocol.Quit, protocol.Exit:
		if err := w.Deliver(m); err != nil {
			n.logger.Warn("failed to deliver message", "slot", f.Slot, "tag", m.Tag(), "error", err)
		}
		return true
	case protocol.Done:
		n.logger.Info("dispatcher completed all tasks", "total", m.Total)
	default:
		n.logger.Warn("unexpected message", "slot", f.Slot, "tag", m.Tag())
	}
	return false
}

// leaving reports whether every worker has stopped or was told to.
func (n *Node) leaving(told []bool) bool {
	for i, w := range n.workers {
		if told[i] {
			continue
		}
		select {
		case <-w.Done():
		default:
			return false
		}
	}
	return true
}

func (n *Node) reply(slot uint32) worker.Reply {
	return func(msg protocol.Message) { n.send(slot, msg) }
}

// send writes one frame. Writes from all workers are serialised on the
// connection; a failed write drops it and the read loop reports the loss.
func (n *Node) send(slot uint32, msg protocol.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		n.logger.Warn("no dispatcher linked, dropping message", "slot", slot, "tag", msg.Tag())
		return
	}
	if err := protocol.WriteFrame(n.conn, slot, msg); err != nil {
		n.logger.Warn("write failed", "slot", slot, "error", err)
		n.conn.Close()
	}
}

// EmergencyShutdown tells every local worker that the dispatcher is
// unreachable and waits until all of them stopped.
func (n *Node) EmergencyShutdown() {
	n.logger.Warn("emergency shutdown", "workers", len(n.workers))
	var undelivered []error
	for _, w := range n.workers {
		if err := w.Deliver(protocol.Exit{Reason: protocol.ExitRemoteUnreachable}); err != nil {
			undelivered = append(undelivered, err)
		}
	}
	if err := errors.Join(undelivered...); err != nil {
		n.logger.Debug("exit not delivered to every worker, cancelling", "error", err)
		n.cancel()
	}
	n.Wait()
}

// Stop cancels every worker and waits for them.
func (n *Node) Stop() {
	n.cancel()
	n.Wait()
}

// Wait blocks until every worker stopped.
func (n *Node) Wait() {
	for _, w := range n.workers {
		<-w.Done()
	}
}
