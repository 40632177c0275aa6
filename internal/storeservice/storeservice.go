// Package storeservice is the region store/index shard RPC surface
// consumed by the scan-and-resolve engine: scan locks, probe a primary
// key's transaction status, and roll back or resolve a lock. Request and
// response shapes follow spec.md §6 exactly (callerStartTs/currentTs both
// set to the GC horizon, startTs/forUpdateTs/keys on the write paths).
package storeservice

import (
	"context"

	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/HaotMan/dingo/internal/txnlock"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// ScanLockRequest pages through locks older than MaxTs in [StartKey, EndKey).
type ScanLockRequest struct {
	StartKey []byte
	EndKey   []byte
	MaxTs    tsoclient.Timestamp
	Limit    int64
}

// ScanLockResponse is one page of a lock scan.
type ScanLockResponse struct {
	Locks   []txnlock.LockInfo
	HasMore bool
	EndKey  []byte
}

// CheckTxnStatusRequest probes the fate of the transaction that owns
// PrimaryKey, as observed at the GC horizon (both CallerStartTs and
// CurrentTs are set to safeTs per spec.md §6 — an open question in the
// source that this design preserves as-is).
type CheckTxnStatusRequest struct {
	CallerStartTs tsoclient.Timestamp
	CurrentTs     tsoclient.Timestamp
	LockTs        tsoclient.Timestamp
	PrimaryKey    []byte
}

// PessimisticRollbackRequest rolls back a single pessimistic lock.
type PessimisticRollbackRequest struct {
	StartTs     tsoclient.Timestamp
	ForUpdateTs tsoclient.Timestamp
	Keys        [][]byte
}

// ResolveLockRequest commits (CommitTs > 0) or rolls back (CommitTs == 0)
// a transaction's locks.
type ResolveLockRequest struct {
	StartTs  tsoclient.Timestamp
	CommitTs tsoclient.Timestamp
	Keys     [][]byte
}

// MutationResponse is the shared shape of the two write RPCs: nil
// TxnResult means success.
type MutationResponse struct {
	TxnResult *txnlock.TxnResult
}

// Service is the RPC surface a single region (data or index shard)
// exposes to the GC driver.
type Service interface {
	TxnScanLock(ctx context.Context, reqTs tsoclient.Timestamp, req ScanLockRequest) (ScanLockResponse, error)
	TxnCheckTxnStatus(ctx context.Context, reqTs tsoclient.Timestamp, req CheckTxnStatusRequest) (txnlock.TxnStatus, error)
	TxnPessimisticRollback(ctx context.Context, reqTs tsoclient.Timestamp, req PessimisticRollbackRequest) (MutationResponse, error)
	TxnResolveLock(ctx context.Context, reqTs tsoclient.Timestamp, req ResolveLockRequest) (MutationResponse, error)
}

// grpcService is the production Service backed by a single gRPC
// connection to one store or index shard.
type grpcService struct {
	conn       *grpc.ClientConn
	methodBase string // "/dingo.store.StoreService" or "/dingo.index.IndexService"
}

// NewGRPCService wraps conn (already dialled to the shard owning
// regionID) into a Service. methodBase selects the store or index service
// name on that connection.
func NewGRPCService(conn *grpc.ClientConn, methodBase string) Service {
	return &grpcService{conn: conn, methodBase: methodBase}
}

func (s *grpcService) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return s.conn.Invoke(ctx, s.methodBase+"/"+method, req, resp, rpcutil.CallOpt())
}

func (s *grpcService) TxnScanLock(ctx context.Context, reqTs tsoclient.Timestamp, req ScanLockRequest) (ScanLockResponse, error) {
	ctx = withReqTs(ctx, reqTs)
	var resp ScanLockResponse
	if err := s.invoke(ctx, "TxnScanLock", &req, &resp); err != nil {
		return ScanLockResponse{}, errors.Wrap(err, "txn scan lock")
	}
	return resp, nil
}

func (s *grpcService) TxnCheckTxnStatus(ctx context.Context, reqTs tsoclient.Timestamp, req CheckTxnStatusRequest) (txnlock.TxnStatus, error) {
	ctx = withReqTs(ctx, reqTs)
	var resp txnlock.TxnStatus
	if err := s.invoke(ctx, "TxnCheckTxnStatus", &req, &resp); err != nil {
		return txnlock.TxnStatus{}, errors.Wrap(err, "txn check txn status")
	}
	return resp, nil
}

func (s *grpcService) TxnPessimisticRollback(ctx context.Context, reqTs tsoclient.Timestamp, req PessimisticRollbackRequest) (MutationResponse, error) {
	ctx = withReqTs(ctx, reqTs)
	var resp MutationResponse
	if err := s.invoke(ctx, "TxnPessimisticRollback", &req, &resp); err != nil {
		return MutationResponse{}, errors.Wrap(err, "txn pessimistic rollback")
	}
	return resp, nil
}

func (s *grpcService) TxnResolveLock(ctx context.Context, reqTs tsoclient.Timestamp, req ResolveLockRequest) (MutationResponse, error) {
	ctx = withReqTs(ctx, reqTs)
	var resp MutationResponse
	if err := s.invoke(ctx, "TxnResolveLock", &req, &resp); err != nil {
		return MutationResponse{}, errors.Wrap(err, "txn resolve lock")
	}
	return resp, nil
}
