// Package scanresolve implements the Scan-and-Resolve Engine: for every
// region in the table keyspace, it pages through locks older than the
// current safeTs, classifies each one, and either resolves it or lowers
// safeTs to that lock's start timestamp. This is the direct generalization
// of original_source's SafePointUpdateTask.safePointUpdate/resolveLock
// loop, restructured as an explicit state machine per spec.md §4.6.
package scanresolve

import (
	"context"

	"github.com/HaotMan/dingo/internal/coordclient"
	"github.com/HaotMan/dingo/internal/region"
	"github.com/HaotMan/dingo/internal/storeservice"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/HaotMan/dingo/internal/txnlock"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Router dispatches RPCs for a region to the storeservice.Service bound
// to the shard owning it. *regionrouter.Router implements this.
type Router interface {
	Service(ctx context.Context, regionID uint64, rt region.Type) (storeservice.Service, error)
}

// DowngradeReason tags why safeTs was lowered, for metrics (spec.md §4 NEW).
type DowngradeReason string

const (
	ReasonProbeIndeterminate DowngradeReason = "probe_indeterminate"
	ReasonResolveFailed      DowngradeReason = "resolve_failed"
	ReasonUndecided          DowngradeReason = "undecided"
)

// Metrics receives scan-and-resolve observability events. Implementations
// must be safe to call from a single goroutine (the engine is always
// single-threaded within one tick, per spec.md §5).
type Metrics interface {
	ObserveLocksScanned(n int)
	ObserveDowngrade(reason DowngradeReason)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLocksScanned(int)          {}
func (noopMetrics) ObserveDowngrade(DowngradeReason) {}

// Engine runs the scan-and-resolve loop across every table-keyspace
// region.
type Engine struct {
	coordinator   coordclient.Client
	router        Router
	primaryRouter Router
	scanLimit     int64
	metrics       Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics overrides the no-op Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. router dispatches RPCs to the region a
// lock was scanned on; the same router also serves the CheckTxnStatus
// probe against the region owning a lock's primary key, which spec.md
// §4.6 step 1 notes "may be a different region from the one the lock was
// scanned on" — in this driver both roles resolve through the same
// region directory.
func NewEngine(coordinator coordclient.Client, router Router, scanLimit int64, opts ...Option) *Engine {
	e := &Engine{
		coordinator:   coordinator,
		router:        router,
		primaryRouter: router,
		scanLimit:     scanLimit,
		metrics:       noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run scans every table-keyspace region for locks older than safeTs and
// resolves what it can, returning the (possibly lowered) final safeTs.
// safeTs is only ever lowered within this call, never raised (spec.md
// §4.6 "Monotonicity invariant").
func (e *Engine) Run(ctx context.Context, reqTs, safeTs tsoclient.Timestamp) (tsoclient.Timestamp, error) {
	regions, err := e.coordinator.GetRegionMap(ctx, reqTs)
	if err != nil {
		return safeTs, errors.Wrap(err, "get region map")
	}

	for _, r := range regions {
		if !r.InTableKeyspace() {
			continue
		}
		safeTs, err = e.scanRegion(ctx, reqTs, safeTs, r, regions)
		if err != nil {
			return safeTs, errors.Wrapf(err, "scan region %d", r.ID)
		}
	}
	return safeTs, nil
}

func (e *Engine) scanRegion(ctx context.Context, reqTs, safeTs tsoclient.Timestamp, r region.Region, allRegions []region.Region) (tsoclient.Timestamp, error) {
	svc, err := e.router.Service(ctx, r.ID, r.Type)
	if err != nil {
		return safeTs, err
	}

	cursor := r.Range.Start
	for {
		resp, err := svc.TxnScanLock(ctx, reqTs, storeservice.ScanLockRequest{
			StartKey: cursor,
			EndKey:   r.Range.End,
			MaxTs:    safeTs,
			Limit:    e.scanLimit,
		})
		if err != nil {
			return safeTs, errors.Wrapf(err, "scan lock on region %d", r.ID)
		}

		if len(resp.Locks) > 0 {
			e.metrics.ObserveLocksScanned(len(resp.Locks))
			safeTs, err = e.resolveLocks(ctx, reqTs, safeTs, resp.Locks, r, allRegions)
			if err != nil {
				return safeTs, err
			}
		}

		if !resp.HasMore {
			return safeTs, nil
		}
		cursor = resp.EndKey
	}
}

// resolveLocks dispatches each lock to checkTxn and then to the
// appropriate rollback/resolve action, lowering safeTs whenever a lock's
// fate can't be cleanly decided. Per spec.md §5 ("Ordering"), processing
// order within a page doesn't affect the result since min is commutative.
func (e *Engine) resolveLocks(ctx context.Context, reqTs, safeTs tsoclient.Timestamp, locks []txnlock.LockInfo, scannedRegion region.Region, allRegions []region.Region) (tsoclient.Timestamp, error) {
	result := safeTs
	for _, lock := range locks {
		status, err := e.checkTxn(ctx, reqTs, safeTs, lock, allRegions)
		if err != nil {
			return result, err
		}

		switch {
		case status.TxnResult != nil:
			log.Info("check txn status indeterminate, downgrading safe ts",
				zap.Binary("key", lock.Key), zap.Uint64("lock-ts", uint64(lock.LockTs)))
			result = lowerTo(result, lock.LockTs)
			e.metrics.ObserveDowngrade(ReasonProbeIndeterminate)

		case txnlock.IsPessimisticRollbackEligible(lock, status.Action):
			resp, err := e.callOnScannedRegion(ctx, reqTs, scannedRegion, func(svc storeservice.Service) (storeservice.MutationResponse, error) {
				return svc.TxnPessimisticRollback(ctx, reqTs, storeservice.PessimisticRollbackRequest{
					StartTs:     lock.LockTs,
					ForUpdateTs: lock.ForUpdateTs,
					Keys:        [][]byte{lock.Key},
				})
			})
			if err != nil {
				return result, err
			}
			if resp.TxnResult != nil {
				result = lowerTo(result, lock.LockTs)
				e.metrics.ObserveDowngrade(ReasonResolveFailed)
			}

		case txnlock.IsResolveEligible(status):
			resp, err := e.callOnScannedRegion(ctx, reqTs, scannedRegion, func(svc storeservice.Service) (storeservice.MutationResponse, error) {
				return svc.TxnResolveLock(ctx, reqTs, storeservice.ResolveLockRequest{
					StartTs:  lock.LockTs,
					CommitTs: status.CommitTs,
					Keys:     [][]byte{lock.Key},
				})
			})
			if err != nil {
				return result, err
			}
			if resp.TxnResult != nil {
				result = lowerTo(result, lock.LockTs)
				e.metrics.ObserveDowngrade(ReasonResolveFailed)
			}

		default:
			result = lowerTo(result, lock.LockTs)
			e.metrics.ObserveDowngrade(ReasonUndecided)
		}
	}
	return result, nil
}

// checkTxn probes the status of the transaction owning lock, addressed to
// the region owning its primary key — which, per spec.md §4.6 step 1, may
// differ from the region the lock was scanned on.
func (e *Engine) checkTxn(ctx context.Context, reqTs, safeTs tsoclient.Timestamp, lock txnlock.LockInfo, allRegions []region.Region) (txnlock.TxnStatus, error) {
	primary, err := ownerOf(lock.PrimaryLock, allRegions)
	if err != nil {
		return txnlock.TxnStatus{}, err
	}
	svc, err := e.primaryRouter.Service(ctx, primary.ID, primary.Type)
	if err != nil {
		return txnlock.TxnStatus{}, err
	}
	status, err := svc.TxnCheckTxnStatus(ctx, reqTs, storeservice.CheckTxnStatusRequest{
		CallerStartTs: safeTs,
		CurrentTs:     safeTs,
		LockTs:        lock.LockTs,
		PrimaryKey:    lock.PrimaryLock,
	})
	if err != nil {
		return txnlock.TxnStatus{}, errors.Wrap(err, "check txn status")
	}
	return status, nil
}

// ownerOf finds which region in allRegions owns primaryKey, reusing the
// single GetRegionMap snapshot fetched at the top of Run rather than
// re-querying the coordinator once per lock.
func ownerOf(primaryKey []byte, allRegions []region.Region) (region.Region, error) {
	for _, r := range allRegions {
		if withinRange(primaryKey, r.Range) {
			return r, nil
		}
	}
	return region.Region{}, errors.Errorf("no region owns primary key %x", primaryKey)
}

func withinRange(key []byte, kr region.KeyRange) bool {
	if compareBytes(key, kr.Start) < 0 {
		return false
	}
	if len(kr.End) > 0 && compareBytes(key, kr.End) >= 0 {
		return false
	}
	return true
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (e *Engine) callOnScannedRegion(ctx context.Context, reqTs tsoclient.Timestamp, r region.Region, call func(storeservice.Service) (storeservice.MutationResponse, error)) (storeservice.MutationResponse, error) {
	svc, err := e.router.Service(ctx, r.ID, r.Type)
	if err != nil {
		return storeservice.MutationResponse{}, err
	}
	return call(svc)
}

// lowerTo implements the monotone-downgrade rule: safeTs only ever
// decreases within a tick (spec.md §4.6 "Monotonicity invariant").
func lowerTo(safeTs, lockTs tsoclient.Timestamp) tsoclient.Timestamp {
	if lockTs < safeTs {
		return lockTs
	}
	return safeTs
}
