// Package peerapi supplies the concrete peerlock.ClusterService and
// peerlock.Peer implementations: it asks the coordinator for the set of
// live computing-node endpoints and dials each one's lock-status RPC the
// same way regionrouter dials a shard, reusing the shared
// rpcutil.ConnCache and JSON grpc codec.
package peerapi

import (
	"context"
	"sync"

	"github.com/HaotMan/dingo/internal/peerlock"
	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pkg/errors"
)

const methodBase = "/dingo.compute.LockStatusService"

// MemberLister enumerates the network endpoints of every live computing
// node in the cluster. In production this is backed by the coordinator's
// membership directory; cluster membership tracking itself is out of
// scope for this driver (spec.md §1, "SQL layer, query planning, job
// execution" — the computing-node process this driver runs alongside).
type MemberLister interface {
	ComputingNodeEndpoints(ctx context.Context) ([]string, error)
}

type tableLocksRequest struct{}
type tableLocksResponse struct {
	Locks []wireLock `json:"locks"`
}
type wireLock struct {
	Kind   int32  `json:"kind"`
	LockTs uint64 `json:"lock_ts"`
}

type clusterService struct {
	members MemberLister
	conns   *rpcutil.ConnCache

	mu    sync.Mutex
	peers map[string]*peer
}

// NewClusterService creates a peerlock.ClusterService backed by members.
func NewClusterService(members MemberLister, sec rpcutil.Security) peerlock.ClusterService {
	return &clusterService{
		members: members,
		conns:   rpcutil.NewConnCache(sec),
		peers:   make(map[string]*peer),
	}
}

func (c *clusterService) ComputingPeers(ctx context.Context) ([]peerlock.Peer, error) {
	endpoints, err := c.members.ComputingNodeEndpoints(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list computing node endpoints")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]peerlock.Peer, 0, len(endpoints))
	for _, addr := range endpoints {
		p, ok := c.peers[addr]
		if !ok {
			p = &peer{addr: addr, conns: c.conns}
			c.peers[addr] = p
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// peer is a single remote computing node's lock-status RPC surface.
type peer struct {
	addr  string
	conns *rpcutil.ConnCache
}

func (p *peer) Endpoint() string { return p.addr }

func (p *peer) TableLocks(ctx context.Context) ([]peerlock.TableLock, error) {
	conn, err := p.conns.Get(p.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial peer %s", p.addr)
	}

	var resp tableLocksResponse
	if err := conn.Invoke(ctx, methodBase+"/TableLocks", &tableLocksRequest{}, &resp, rpcutil.CallOpt()); err != nil {
		return nil, errors.Wrapf(err, "table locks rpc to %s", p.addr)
	}

	locks := make([]peerlock.TableLock, 0, len(resp.Locks))
	for _, wl := range resp.Locks {
		locks = append(locks, peerlock.TableLock{
			Kind:   peerlock.LockKind(wl.Kind),
			LockTs: tsoclient.Timestamp(wl.LockTs),
		})
	}
	return locks, nil
}
