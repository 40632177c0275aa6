package coordclient

import (
	"context"
	"testing"
	"time"

	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsEmptyAddresses(t *testing.T) {
	_, err := NewClient(nil, rpcutil.Security{})
	assert.Error(t, err)
}

func TestGetRegionMapFailsOverAcrossUnreachableEndpoints(t *testing.T) {
	// Neither address has a listener; invoke must try both before giving
	// up, and the wrapped error should say so rather than naming just one.
	c, err := NewClient([]string{"127.0.0.1:1", "127.0.0.1:2"}, rpcutil.Security{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.GetRegionMap(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get region map")
	assert.Contains(t, err.Error(), "all coordinator endpoints failed")
}

func TestKVRangeWrapsUnreachableError(t *testing.T) {
	c, err := NewClient([]string{"127.0.0.1:1"}, rpcutil.Security{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err = c.KVRange(ctx, KeyTxnDuration)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"txn-duration"`)
}
