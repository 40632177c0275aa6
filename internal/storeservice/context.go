package storeservice

import (
	"context"
	"strconv"

	"github.com/HaotMan/dingo/internal/tsoclient"
	"google.golang.org/grpc/metadata"
)

// reqTsHeader is the gRPC metadata key every region RPC is tagged with,
// matching the requestHeader() pattern in scheduler/client.client (there
// carrying a cluster id; here carrying the request timestamp every
// region RPC is addressed at, per spec.md §6).
const reqTsHeader = "x-dingo-req-ts"

func withReqTs(ctx context.Context, reqTs tsoclient.Timestamp) context.Context {
	return metadata.AppendToOutgoingContext(ctx, reqTsHeader, strconv.FormatUint(uint64(reqTs), 16))
}
