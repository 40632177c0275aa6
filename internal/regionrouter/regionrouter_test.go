package regionrouter

import (
	"context"
	"testing"
	"time"

	"github.com/HaotMan/dingo/internal/region"
	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addr string
	n    int
}

func (f *fakeResolver) ResolveRegion(ctx context.Context, regionID uint64) (string, error) {
	f.n++
	return f.addr, nil
}

func TestServiceCachesUntilTTLExpires(t *testing.T) {
	resolver := &fakeResolver{addr: "127.0.0.1:5000"}
	router := NewRouter(resolver, rpcutil.Security{}, 20*time.Millisecond)

	svc1, err := router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)
	svc2, err := router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)

	assert.Same(t, svc1, svc2)
	assert.Equal(t, 1, resolver.n, "second call within ttl must not re-resolve")

	time.Sleep(30 * time.Millisecond)
	_, err = router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.n, "call after ttl expiry must re-resolve")
}

func TestInvalidateForcesRedial(t *testing.T) {
	resolver := &fakeResolver{addr: "127.0.0.1:5000"}
	router := NewRouter(resolver, rpcutil.Security{}, time.Hour)

	_, err := router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)

	router.Invalidate(1)

	_, err = router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.n)
}

func TestServiceSelectsMethodBaseByRegionType(t *testing.T) {
	resolver := &fakeResolver{addr: "127.0.0.1:5000"}
	router := NewRouter(resolver, rpcutil.Security{}, time.Hour)

	dataSvc, err := router.Service(context.Background(), 1, region.DataRegion)
	require.NoError(t, err)
	indexSvc, err := router.Service(context.Background(), 2, region.IndexRegion)
	require.NoError(t, err)

	assert.NotNil(t, dataSvc)
	assert.NotNil(t, indexSvc)
}
