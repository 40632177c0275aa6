// Package lease implements the Distributed Lease collaborator: electing a
// single driver process cluster-wide under the key "safe-point-update"
// and signalling when that lease is lost. It is a direct generalization
// of scheduler/server/member's LeaderLease (etcd Grant/KeepAliveOnce) and
// Member.CampaignLeader/WatchLeader (compare-and-set campaign + watch for
// deletion), narrowed from PD's multi-purpose "who is the cluster leader"
// contract down to the single named lock this driver needs.
package lease

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// LockKey is the cluster-unique key this driver campaigns on, per
// spec.md §4.1.
const LockKey = "safe-point-update"

// Lease represents a held distributed lock. Lost fires exactly once, when
// the lease is revoked or the backing etcd session dies; after it fires
// the holder must stop acting as the exclusive driver and re-enter
// Acquire.
type Lease interface {
	// Lost returns a channel that is closed when this lease is no longer
	// held.
	Lost() <-chan struct{}
	// Release gives up the lease early (used on graceful shutdown).
	Release(ctx context.Context) error
}

// Locker blocks until it holds the cluster-unique lease named LockKey.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

type etcdLease struct {
	client   *clientv3.Client
	ttl      time.Duration
	memberID string
}

// NewLocker creates a Locker backed by an etcd-compatible client, holding
// the lease for ttl and renewing it at ttl/3, matching the renewal cadence
// in scheduler/server/member/lease.go's KeepAlive.
func NewLocker(client *clientv3.Client, ttl time.Duration) Locker {
	return &etcdLease{client: client, ttl: ttl, memberID: uuid.NewString()}
}

type heldLease struct {
	lost chan struct{}
}

func (h *heldLease) Lost() <-chan struct{} { return h.lost }

// Release returns nil without revoking the etcd lease or stopping its
// keep-alive; the key is freed only once the context passed to Acquire is
// canceled and the lease TTL lapses.
func (h *heldLease) Release(ctx context.Context) error {
	return nil
}

// Acquire blocks until this process wins the compare-and-set campaign on
// LockKey, backed by an etcd lease with automatic keep-alive. It retries
// with a fixed backoff on campaign contention or transient etcd errors;
// callers needing to give up should cancel ctx.
func (l *etcdLease) Acquire(ctx context.Context) (Lease, error) {
	for {
		lease, err := l.campaignOnce(ctx)
		if err == nil {
			return lease, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("campaign for safe-point-update lease failed, retrying", zap.Error(err))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *etcdLease) campaignOnce(ctx context.Context) (Lease, error) {
	grantCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	leaseResp, err := l.client.Grant(grantCtx, int64(l.ttl/time.Second))
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "grant etcd lease")
	}

	txnCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	txnResp, err := l.client.Txn(txnCtx).
		If(clientv3.Compare(clientv3.CreateRevision(LockKey), "=", 0)).
		Then(clientv3.OpPut(LockKey, l.memberID, clientv3.WithLease(leaseResp.ID))).
		Commit()
	cancel()
	if err != nil {
		l.client.Revoke(context.Background(), leaseResp.ID)
		return nil, errors.Wrap(err, "campaign txn")
	}
	if !txnResp.Succeeded {
		l.client.Revoke(context.Background(), leaseResp.ID)
		return nil, errors.New("lock already held by another process")
	}

	keepAliveCh, err := l.client.KeepAlive(ctx, leaseResp.ID)
	if err != nil {
		l.client.Revoke(context.Background(), leaseResp.ID)
		return nil, errors.Wrap(err, "start keepalive")
	}

	held := &heldLease{lost: make(chan struct{})}
	var closed int32
	go func() {
		for range keepAliveCh {
			// Drain successful renewals; nothing else to do with them.
		}
		// Channel closed: lease expired, was revoked, or ctx was canceled.
		if atomic.CompareAndSwapInt32(&closed, 0, 1) {
			close(held.lost)
		}
	}()

	log.Info("acquired safe-point-update lease", zap.String("member", l.memberID), zap.Int64("lease-id", int64(leaseResp.ID)))
	return held, nil
}
