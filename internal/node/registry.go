// internal/node/registry.go
package node

import (
	"context"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"

	"distributed-fractal/internal/master"
)

// leaseStore is the part of the etcd client the registry uses.
type leaseStore interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

var _ leaseStore = (*clientv3.Client)(nil)

// Registry advertises a publishing node in etcd so dispatchers can dial it.
type Registry struct {
	client  leaseStore
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a node registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "node-registry"),
	}
}

// Register puts the node address under a lease of ttl seconds and keeps the
// lease alive until ctx ends or Deregister is called.
func (r *Registry) Register(ctx context.Context, nodeID, addr string, ttl int64) error {
	r.key = master.NodeRegistryPrefix + nodeID

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = lease.ID

	if _, err := r.client.Put(ctx, r.key, addr, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put node registration key: %w", err)
	}

	keepAlive, err := r.client.KeepAlive(ctx, r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}
	go func() {
		for ka := range keepAlive {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		r.logger.Warn("keep-alive channel closed, node registration may have expired", "key", r.key)
	}()

	r.logger.Info("node registered", "key", r.key, "addr", addr)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering node", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
