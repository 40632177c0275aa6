package storeservice

import (
	"context"
	"testing"

	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestWithReqTsEncodesHexTimestamp(t *testing.T) {
	ctx := withReqTs(context.Background(), tsoclient.Timestamp(255))

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	vals := md.Get(reqTsHeader)
	require.Len(t, vals, 1)
	assert.Equal(t, "ff", vals[0])
}
