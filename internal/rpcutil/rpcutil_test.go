package rpcutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnCacheReusesConnectionForSameAddress(t *testing.T) {
	cache := NewConnCache(Security{})

	a, err := cache.Get("127.0.0.1:4000")
	require.NoError(t, err)
	b, err := cache.Get("127.0.0.1:4000")
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestConnCacheEvictForcesRedial(t *testing.T) {
	cache := NewConnCache(Security{})

	a, err := cache.Get("127.0.0.1:4000")
	require.NoError(t, err)
	cache.Evict("127.0.0.1:4000")
	b, err := cache.Get("127.0.0.1:4000")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestConnCacheDistinctAddressesGetDistinctConns(t *testing.T) {
	cache := NewConnCache(Security{})

	a, err := cache.Get("127.0.0.1:4000")
	require.NoError(t, err)
	b, err := cache.Get("127.0.0.1:4001")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestDialRejectsMissingCA(t *testing.T) {
	_, err := Dial("127.0.0.1:4000", Security{CAPath: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
