// Package safepoint implements the Safe-Point Computer: it combines the
// configured transaction-duration retention window with the minimum
// lock timestamp held by any peer's row locks to produce the initial
// candidate safeTs for a tick, before the scan-and-resolve engine has a
// chance to lower it further. Grounded directly on
// original_source's SafePointUpdateTask.safeTs(Set<Location>, long).
package safepoint

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/HaotMan/dingo/internal/coordclient"
	"github.com/HaotMan/dingo/internal/peerlock"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTxnDuration is used when the "txn-duration" control key is
// absent, per spec.md §3: "default 7 days".
const DefaultTxnDuration = 7 * 24 * time.Hour

// DowngradeReason tags why Compute returned a value below the
// txn-duration-adjusted candidate, for metrics (spec.md §4 NEW).
type DowngradeReason string

// ReasonPeerLock is reported when a live peer's ROW table lock caps the
// candidate safe ts below the txn-duration-adjusted value.
const ReasonPeerLock DowngradeReason = "peer_lock"

// Metrics receives safe-point computation observability events.
type Metrics interface {
	ObserveDowngrade(reason DowngradeReason)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDowngrade(DowngradeReason) {}

// Computer produces the initial candidate safeTs for a tick.
type Computer struct {
	coordinator coordclient.Client
	tso         tsoclient.Client
	peers       *peerlock.Aggregator
	metrics     Metrics
}

// Option configures a Computer.
type Option func(*Computer)

// WithMetrics overrides the no-op Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Computer) { c.metrics = m }
}

// NewComputer creates a Computer.
func NewComputer(coordinator coordclient.Client, tso tsoclient.Client, peers *peerlock.Aggregator, opts ...Option) *Computer {
	c := &Computer{coordinator: coordinator, tso: tso, peers: peers, metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute returns the candidate safeTs for reqTs, per spec.md §4.3:
//
//  1. txnDuration ← coordinatorKv.get("txn-duration"); default 7 days.
//  2. safeTs ← reqTs - txnDuration, computed two different ways depending
//     on whether txn-duration was configured (decoded ms subtracts
//     directly on the ts integer) or defaulted (wall-time subtraction,
//     re-encoded through the TSO).
//  3. minLockTs ← min over all local+remote ROW table locks, +∞ if none.
//  4. return min(safeTs, minLockTs).
func (c *Computer) Compute(ctx context.Context, reqTs tsoclient.Timestamp) (tsoclient.Timestamp, error) {
	safeTs, err := c.durationAdjustedTs(ctx, reqTs)
	if err != nil {
		return 0, err
	}

	minLockTs, found, err := c.peers.MinRowLockTs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "aggregate peer table locks")
	}

	if found && minLockTs < safeTs {
		log.Info("peer table lock caps candidate safe ts",
			zap.Uint64("safe-ts", uint64(safeTs)), zap.Uint64("peer-lock-ts", uint64(minLockTs)))
		c.metrics.ObserveDowngrade(ReasonPeerLock)
		return minLockTs, nil
	}
	return safeTs, nil
}

func (c *Computer) durationAdjustedTs(ctx context.Context, reqTs tsoclient.Timestamp) (tsoclient.Timestamp, error) {
	value, found, err := c.coordinator.KVRange(ctx, coordclient.KeyTxnDuration)
	if err != nil {
		return 0, errors.Wrap(err, "read txn-duration control key")
	}
	if found && len(value) == 8 {
		durationMs := binary.BigEndian.Uint64(value)
		// Decoded form: subtract directly on the ts integer, per spec.md
		// §4.3 step 2 ("decoded form uses subtraction on the ts integer").
		return tsoclient.Timestamp(uint64(reqTs) - durationMs), nil
	}

	// Absent form: subtract on wall time and re-encode through the TSO.
	wallMs := c.tso.Timestamp(reqTs) - DefaultTxnDuration.Milliseconds()
	return c.tso.TSOForWallTime(ctx, wallMs)
}
