package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultTTL         = 10
	revokeTimeout      = 2 * time.Second
)

var (
	// ErrDisabled indicates discovery is disabled in config.
	ErrDisabled = errors.New("discovery: disabled in configuration")

	// ErrInvalidNode is returned for empty node names, IDs or names
	// containing the key separator.
	ErrInvalidNode = errors.New("discovery: invalid node")
)

// etcdClient is the part of *clientv3.Client the registry uses.
type etcdClient interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// NewClient connects to the configured etcd endpoints.
func NewClient(cfg config.DiscoveryConfig) (*clientv3.Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: defaultDialTimeout,
	})
}

// Node is one registered relay node.
type Node struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Registry registers relay nodes under /<prefix>/nodes/<name>/<id>.
type Registry struct {
	cli    etcdClient
	prefix string
	ttl    int64
	logger *logging.Logger
}

// NewRegistry returns a registry storing keys under prefix. A ttl below 1
// uses the default of 10 seconds.
func NewRegistry(cli etcdClient, prefix string, ttl int, logger *logging.Logger) *Registry {
	if ttl < 1 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		cli:    cli,
		prefix: "/" + strings.Trim(prefix, "/") + "/nodes/",
		ttl:    int64(ttl),
		logger: logger.With("component", "discovery"),
	}
}

func (r *Registry) key(name, id string) string {
	return r.prefix + name + "/" + id
}

// Registration is a live node key. Close revokes it.
type Registration struct {
	registry *Registry
	lease    clientv3.LeaseID
	cancel   context.CancelFunc
	once     sync.Once
}

// RegisterNode writes the node's address under a lease and keeps the lease
// alive until the registration is closed or ctx ends.
func (r *Registry) RegisterNode(ctx context.Context, name, id, addr string) (*Registration, error) {
	if name == "" || id == "" || strings.Contains(name, "/") || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: %q/%q", ErrInvalidNode, name, id)
	}

	lease, err := r.cli.Grant(ctx, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("granting lease: %w", err)
	}

	if _, err := r.cli.Put(ctx, r.key(name, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("registering node %s: %w", name, err)
	}

	keepCtx, cancel := context.WithCancel(ctx)
	alive, err := r.cli.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keeping lease alive: %w", err)
	}

	go func() {
		for range alive {
		}
		if keepCtx.Err() == nil {
			r.logger.Warn("discovery lease lost", "node", name, "node_id", id)
		}
	}()

	r.logger.Info("node registered", "node", name, "node_id", id, "addr", addr, "ttl", r.ttl)
	return &Registration{registry: r, lease: lease.ID, cancel: cancel}, nil
}

// Close stops the keepalive and revokes the lease, deleting the key.
func (g *Registration) Close() error {
	var err error
	g.once.Do(func() {
		g.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()
		if _, rerr := g.registry.cli.Revoke(ctx, g.lease); rerr != nil {
			err = fmt.Errorf("revoking lease: %w", rerr)
		}
	})
	return err
}

// ListNodes returns every registered node sorted by name then ID.
func (r *Registry) ListNodes(ctx context.Context) ([]Node, error) {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	nodes := make([]Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), r.prefix)
		name, id, ok := strings.Cut(rest, "/")
		if !ok || name == "" || id == "" {
			continue
		}
		nodes = append(nodes, Node{Name: name, ID: id, Addr: string(kv.Value)})
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes, nil
}
