// internal/master/discovery.go
package master

import (
	"context"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// NodeRegistryPrefix is the etcd prefix where publishing worker nodes register their address.
	NodeRegistryPrefix = "/fractal/nodes/"
)

// NodeDialer connects the dispatcher to a publishing worker node.
type NodeDialer interface {
	Dial(ctx context.Context, addr string) error
}

// NodeDiscovery watches etcd for publishing worker nodes and dials each new one.
type NodeDiscovery struct {
	client *clientv3.Client
	dialer NodeDialer
	logger *slog.Logger
	nodes  map[string]string // node key -> address
	mu     sync.RWMutex
}

// NewNodeDiscovery creates a new discovery service.
func NewNodeDiscovery(client *clientv3.Client, dialer NodeDialer, logger *slog.Logger) *NodeDiscovery {
	return &NodeDiscovery{
		client: client,
		dialer: dialer,
		logger: logger.With("component", "node-discovery"),
		nodes:  make(map[string]string),
	}
}

// WatchNodes loads the registered nodes, then follows registrations until ctx ends.
// This is a blocking call and should be run in a goroutine.
func (d *NodeDiscovery) WatchNodes(ctx context.Context) {
	d.logger.Info("starting to watch for worker nodes")

	if err := d.loadInitialNodes(ctx); err != nil {
		d.logger.Error("failed to perform initial node load", "error", err)
	}

	watchChan := d.client.Watch(ctx, NodeRegistryPrefix, clientv3.WithPrefix())
	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case clientv3.EventTypePut:
				d.put(ctx, key, string(event.Kv.Value))
			case clientv3.EventTypeDelete:
				d.remove(key)
			}
		}
	}
	d.logger.Info("stopped watching for worker nodes")
}

func (d *NodeDiscovery) loadInitialNodes(ctx context.Context) error {
	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(getCtx, NodeRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		d.put(ctx, string(kv.Key), string(kv.Value))
	}
	return nil
}

// put dials a node the first time its key is seen. Lease refreshes re-put the key and are ignored.
func (d *NodeDiscovery) put(ctx context.Context, key, addr string) {
	d.mu.Lock()
	_, known := d.nodes[key]
	d.nodes[key] = addr
	d.mu.Unlock()
	if known {
		return
	}

	d.logger.Info("new worker node discovered", "id", key, "addr", addr)
	if err := d.dialer.Dial(ctx, addr); err != nil {
		d.logger.Warn("failed to connect to discovered node", "id", key, "addr", addr, "error", err)
	}
}

// remove forgets a node whose registration expired or was revoked. A later
// registration under the same key is dialed again.
func (d *NodeDiscovery) remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("worker node deregistered", "id", key, "addr", d.nodes[key])
	delete(d.nodes, key)
}

// Nodes returns a snapshot of the known node addresses.
func (d *NodeDiscovery) Nodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]string, 0, len(d.nodes))
	for _, addr := range d.nodes {
		addrs = append(addrs, addr)
	}
	return addrs
}
