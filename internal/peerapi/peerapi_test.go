package peerapi

import (
	"context"
	"testing"

	"github.com/HaotMan/dingo/internal/peerlock"
	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	endpoints []string
}

func (f *fakeMembers) ComputingNodeEndpoints(ctx context.Context) ([]string, error) {
	return f.endpoints, nil
}

func TestComputingPeersCachesPeerPerEndpoint(t *testing.T) {
	members := &fakeMembers{endpoints: []string{"127.0.0.1:6000"}}
	svc := NewClusterService(members, rpcutil.Security{})

	first, err := svc.ComputingPeers(context.Background())
	require.NoError(t, err)
	second, err := svc.ComputingPeers(context.Background())
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, "127.0.0.1:6000", first[0].Endpoint())
}

func TestComputingPeersReturnsOnePerEndpoint(t *testing.T) {
	members := &fakeMembers{endpoints: []string{"127.0.0.1:6000", "127.0.0.1:6001"}}
	svc := NewClusterService(members, rpcutil.Security{})

	peers, err := svc.ComputingPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)

	var endpoints []string
	for _, p := range peers {
		endpoints = append(endpoints, p.Endpoint())
	}
	assert.ElementsMatch(t, []string{"127.0.0.1:6000", "127.0.0.1:6001"}, endpoints)
}

func TestComputingPeersPropagatesMemberListerError(t *testing.T) {
	members := &erroringMembers{}
	svc := NewClusterService(members, rpcutil.Security{})

	_, err := svc.ComputingPeers(context.Background())
	assert.Error(t, err)
}

type erroringMembers struct{}

func (erroringMembers) ComputingNodeEndpoints(ctx context.Context) ([]string, error) {
	return nil, errors.New("member listing failed")
}

var _ peerlock.Peer = (*peer)(nil)
