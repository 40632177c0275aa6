package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HaotMan/dingo/internal/coordclient"
	"github.com/HaotMan/dingo/internal/lease"
	"github.com/HaotMan/dingo/internal/peerlock"
	"github.com/HaotMan/dingo/internal/region"
	"github.com/HaotMan/dingo/internal/safepoint"
	"github.com/HaotMan/dingo/internal/scanresolve"
	"github.com/HaotMan/dingo/internal/storeservice"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	published []tsoclient.Timestamp
	disabled  bool
}

func (f *fakeCoordinator) GetRegionMap(ctx context.Context, reqTs tsoclient.Timestamp) ([]region.Region, error) {
	return nil, nil
}
func (f *fakeCoordinator) KVRange(ctx context.Context, key string) ([]byte, bool, error) {
	if key == coordclient.KeySafePointUpdateDisable && f.disabled {
		return []byte{1}, true, nil
	}
	return nil, false, nil
}
func (f *fakeCoordinator) UpdateGCSafePoint(ctx context.Context, reqTs, safePoint tsoclient.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, safePoint)
	return nil
}
func (f *fakeCoordinator) ResolveRegion(ctx context.Context, regionID uint64) (string, error) {
	return "", nil
}
func (f *fakeCoordinator) ComputingNodeEndpoints(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeCoordinator) Close() {}

func (f *fakeCoordinator) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeTSO struct{ ts uint64 }

func (f *fakeTSO) TSO(ctx context.Context) (tsoclient.Timestamp, error) {
	return tsoclient.Timestamp(atomic.AddUint64(&f.ts, 1)), nil
}
func (f *fakeTSO) Timestamp(ts tsoclient.Timestamp) int64 { return 0 }
func (f *fakeTSO) TSOForWallTime(ctx context.Context, wallMs int64) (tsoclient.Timestamp, error) {
	return 0, nil
}

type noLocks struct{}

func (noLocks) TableLocks() []peerlock.TableLock { return nil }

type noPeers struct{}

func (noPeers) ComputingPeers(ctx context.Context) ([]peerlock.Peer, error) { return nil, nil }

type fakeLease struct {
	lost chan struct{}
}

func (f *fakeLease) Lost() <-chan struct{}            { return f.lost }
func (f *fakeLease) Release(ctx context.Context) error { return nil }

type fakeLocker struct {
	acquireCount int32
	leases       chan *fakeLease
}

func (f *fakeLocker) Acquire(ctx context.Context) (lease.Lease, error) {
	atomic.AddInt32(&f.acquireCount, 1)
	select {
	case l := <-f.leases:
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// unreachableRouter is never exercised in these tests: fakeCoordinator's
// region map is always empty, so scanresolve.Engine never dispatches a
// region RPC.
type unreachableRouter struct{}

func (unreachableRouter) Service(ctx context.Context, regionID uint64, rt region.Type) (storeservice.Service, error) {
	return nil, errors.New("unreachable: no regions in this test's coordinator fake")
}

func newTestDriver(coord *fakeCoordinator, locker *fakeLocker, tickPeriod time.Duration) *Driver {
	tso := &fakeTSO{}
	agg := peerlock.NewAggregator(noLocks{}, noPeers{}, "self")
	computer := safepoint.NewComputer(coord, tso, agg)
	engine := scanresolve.NewEngine(coord, unreachableRouter{}, 1024)
	return New(locker, tso, coord, computer, engine, tickPeriod, time.Millisecond)
}

func TestDriverTicksAndPublishesSafePoint(t *testing.T) {
	coord := &fakeCoordinator{}
	locker := &fakeLocker{leases: make(chan *fakeLease, 1)}
	held := &fakeLease{lost: make(chan struct{})}
	locker.leases <- held

	drv := newTestDriver(coord, locker, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err := drv.Run(ctx)

	require.Error(t, err)
	assert.GreaterOrEqual(t, coord.publishedCount(), 1)
}

func TestDriverReacquiresLeaseAfterLoss(t *testing.T) {
	coord := &fakeCoordinator{}
	locker := &fakeLocker{leases: make(chan *fakeLease, 2)}
	first := &fakeLease{lost: make(chan struct{})}
	second := &fakeLease{lost: make(chan struct{})}
	locker.leases <- first
	locker.leases <- second

	drv := newTestDriver(coord, locker, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(first.lost)
	}()

	_ = drv.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&locker.acquireCount), int32(2))
}

func TestDriverSkipsPublishWhenDisabled(t *testing.T) {
	coord := &fakeCoordinator{disabled: true}
	locker := &fakeLocker{leases: make(chan *fakeLease, 1)}
	held := &fakeLease{lost: make(chan struct{})}
	locker.leases <- held

	drv := newTestDriver(coord, locker, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = drv.Run(ctx)

	assert.Equal(t, 0, coord.publishedCount())
}
