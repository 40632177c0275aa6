// Package peerlock implements the Peer Lock Aggregator: it collects the
// ROW-type table locks held locally and by every other computing node in
// the cluster, so the Safe-Point Computer can cap the candidate safe
// point below any lock a concurrent reader or DDL statement still holds.
// It generalizes the Stream.concat(local locks, peer locks) pass in
// original_source's SafePointUpdateTask.safeTs, fanning the per-peer RPCs
// out concurrently with golang.org/x/sync/errgroup the way a
// production caller would rather than the original's sequential stream.
package peerlock

import (
	"context"

	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LockKind mirrors the transaction.api.LockType enum: only ROW locks cap
// the safe point (spec.md §3).
type LockKind int32

const (
	LockKindUnknown LockKind = iota
	LockKindRow
	LockKindTable
)

// TableLock is a DDL-level lock held by a node on behalf of a live
// transaction or reader.
type TableLock struct {
	Kind   LockKind
	LockTs tsoclient.Timestamp
}

// LocalLocks reports every table lock held by this process.
type LocalLocks interface {
	TableLocks() []TableLock
}

// Peer is a remote computing node's "show locks" RPC surface.
type Peer interface {
	// Endpoint is this peer's network address, used to exclude the local
	// node from the cluster member list.
	Endpoint() string
	TableLocks(ctx context.Context) ([]TableLock, error)
}

// ClusterService enumerates the cluster's computing nodes.
type ClusterService interface {
	ComputingPeers(ctx context.Context) ([]Peer, error)
}

// Aggregator collects local and remote ROW table locks.
type Aggregator struct {
	local   LocalLocks
	cluster ClusterService
	self    string
}

// NewAggregator creates an Aggregator. self is this node's own endpoint,
// used to exclude it from the remote peer list (spec.md §4.4: "excluding
// the local node by equality by network endpoint").
func NewAggregator(local LocalLocks, cluster ClusterService, self string) *Aggregator {
	return &Aggregator{local: local, cluster: cluster, self: self}
}

// MinRowLockTs returns the minimum LockTs over every ROW table lock held
// locally or reported by a reachable peer, or (0, false) if no such lock
// exists anywhere.
//
// Failure policy (spec.md §4.4/§7): a peer that errors or cannot be
// reached fails the whole call — missing a peer's lock could let GC run
// past a live reader, so partial results are never returned.
func (a *Aggregator) MinRowLockTs(ctx context.Context) (tsoclient.Timestamp, bool, error) {
	peers, err := a.cluster.ComputingPeers(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "list computing peers")
	}

	var remote []Peer
	for _, p := range peers {
		if p.Endpoint() == a.self {
			continue
		}
		remote = append(remote, p)
	}

	results := make([][]TableLock, len(remote))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range remote {
		i, p := i, p
		g.Go(func() error {
			locks, err := p.TableLocks(gctx)
			if err != nil {
				return errors.Wrapf(err, "peer %s unreachable", p.Endpoint())
			}
			results[i] = locks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	var (
		min   tsoclient.Timestamp
		found bool
	)
	consider := func(locks []TableLock) {
		for _, l := range locks {
			if l.Kind != LockKindRow {
				continue
			}
			if !found || l.LockTs < min {
				min = l.LockTs
				found = true
			}
		}
	}
	consider(a.local.TableLocks())
	for _, locks := range results {
		consider(locks)
	}
	return min, found, nil
}
