// internal/infra/tcp/server.go
package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"distributed-fractal/internal/master"
	"distributed-fractal/internal/protocol"
)

// DefaultQueueSize is the send queue headroom of a connection on top of the
// frames allowed per announced slot.
const DefaultQueueSize = 64

// Server connects worker nodes to the coordinator inbox: nodes that dial in
// are accepted by Serve, publishing nodes are reached with Dial.
type Server struct {
	inbox     master.Inbox
	queueSize int
	logger    *slog.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a transport feeding inbox.
func NewServer(inbox master.Inbox, queueSize int, logger *slog.Logger) *Server {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Server{
		inbox:     inbox,
		queueSize: queueSize,
		logger:    logger.With("component", "tcp-server"),
		peers:     make(map[*peer]struct{}),
	}
}

var _ master.NodeDialer = (*Server)(nil)

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("listening for worker nodes", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.logger.Info("worker node connected", "remote_addr", conn.RemoteAddr().String())
		s.ServeConn(conn)
	}
}

// ServeConn attaches an established connection and starts its reader and writer.
func (s *Server) ServeConn(conn net.Conn) {
	p := newPeer(conn, s.inbox, s.queueSize, s.logger)

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		p.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		p.readLoop()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
	}()
}

// Dial connects to a publishing worker node and asks it for its workers.
func (s *Server) Dial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to node %s: %w", addr, err)
	}
	s.logger.Info("connected to worker node", "addr", addr)

	// the request is written before the reader starts, so announcements cannot race it
	if err := protocol.WriteFrame(conn, 0, protocol.GetWorkers{}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to request workers from %s: %w", addr, err)
	}
	s.ServeConn(conn)
	return nil
}

// DialAll dials every peer; unreachable peers are logged and skipped.
func (s *Server) DialAll(ctx context.Context, addrs []string) int {
	connected := 0
	for _, addr := range addrs {
		if err := s.Dial(ctx, addr); err != nil {
			s.logger.Warn("skipping unreachable peer", "addr", addr, "error", err)
			continue
		}
		connected++
	}
	return connected
}

// Close drops every connection and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	s.wg.Wait()
}
