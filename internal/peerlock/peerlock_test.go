package peerlock

import (
	"context"
	"testing"

	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocalLocks struct {
	locks []TableLock
}

func (f fakeLocalLocks) TableLocks() []TableLock { return f.locks }

type fakePeer struct {
	endpoint string
	locks    []TableLock
	err      error
}

func (p fakePeer) Endpoint() string { return p.endpoint }
func (p fakePeer) TableLocks(ctx context.Context) ([]TableLock, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.locks, nil
}

type fakeCluster struct {
	peers []Peer
}

func (c fakeCluster) ComputingPeers(ctx context.Context) ([]Peer, error) { return c.peers, nil }

func TestMinRowLockTsExcludesSelf(t *testing.T) {
	local := fakeLocalLocks{locks: []TableLock{{Kind: LockKindRow, LockTs: 50}}}
	cluster := fakeCluster{peers: []Peer{
		fakePeer{endpoint: "self:1234", locks: []TableLock{{Kind: LockKindRow, LockTs: 10}}},
		fakePeer{endpoint: "peer:1234", locks: []TableLock{{Kind: LockKindRow, LockTs: 30}}},
	}}

	agg := NewAggregator(local, cluster, "self:1234")
	min, found, err := agg.MinRowLockTs(context.Background())

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tsoclient.Timestamp(30), min)
}

func TestMinRowLockTsIgnoresTableLocks(t *testing.T) {
	local := fakeLocalLocks{locks: []TableLock{{Kind: LockKindTable, LockTs: 5}}}
	cluster := fakeCluster{}

	agg := NewAggregator(local, cluster, "self:1234")
	_, found, err := agg.MinRowLockTs(context.Background())

	require.NoError(t, err)
	assert.False(t, found)
}

func TestMinRowLockTsPropagatesPeerFailure(t *testing.T) {
	local := fakeLocalLocks{}
	cluster := fakeCluster{peers: []Peer{
		fakePeer{endpoint: "peer:1", err: errors.New("unreachable")},
	}}

	agg := NewAggregator(local, cluster, "self:1234")
	_, _, err := agg.MinRowLockTs(context.Background())

	assert.Error(t, err)
}

func TestMinRowLockTsNoLocksAnywhere(t *testing.T) {
	agg := NewAggregator(fakeLocalLocks{}, fakeCluster{}, "self:1234")
	_, found, err := agg.MinRowLockTs(context.Background())

	require.NoError(t, err)
	assert.False(t, found)
}
