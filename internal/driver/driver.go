// Package driver implements the Driver Scheduler: it holds the
// distributed lease, ticks the safe-point computation and scan-resolve
// engine on a fixed period, and re-acquires the lease whenever it is
// lost. It generalizes scheduler/server/member's campaign-then-serve
// loop, but replaces the original's recursive self-restart on lease loss
// with the explicit acquire/schedule/wait-for-loss/cancel loop called
// for in the design notes.
package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/HaotMan/dingo/internal/coordclient"
	"github.com/HaotMan/dingo/internal/lease"
	"github.com/HaotMan/dingo/internal/safepoint"
	"github.com/HaotMan/dingo/internal/scanresolve"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TickResult tags the outcome of one tick, for metrics.
type TickResult string

const (
	TickResultSuccess TickResult = "success"
	TickResultFailed  TickResult = "failed"
	TickResultSkipped TickResult = "skipped"
)

// Metrics receives per-tick observability events.
type Metrics interface {
	ObserveTick(result TickResult, d time.Duration)
	SetSafePoint(ts tsoclient.Timestamp)
	SetLeaseHeld(held bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(TickResult, time.Duration) {}
func (noopMetrics) SetSafePoint(tsoclient.Timestamp)      {}
func (noopMetrics) SetLeaseHeld(bool)                     {}

// Driver ties the lease, safe-point computer, and scan-resolve engine
// together into the periodic tick schedule described in spec.md §4.2.
type Driver struct {
	locker      lease.Locker
	tso         tsoclient.Client
	coordinator coordclient.Client
	computer    *safepoint.Computer
	engine      *scanresolve.Engine

	tickPeriod   time.Duration
	initialDelay time.Duration
	metrics      Metrics

	// running latches re-entrancy within a single lease term: a slow tick
	// must never overlap with the next scheduled one (spec.md invariants
	// P2/P7).
	running int32
}

// Option configures a Driver.
type Option func(*Driver)

// WithMetrics overrides the no-op Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates a Driver.
func New(locker lease.Locker, tso tsoclient.Client, coordinator coordclient.Client, computer *safepoint.Computer, engine *scanresolve.Engine, tickPeriod, initialDelay time.Duration, opts ...Option) *Driver {
	d := &Driver{
		locker:       locker,
		tso:          tso,
		coordinator:  coordinator,
		computer:     computer,
		engine:       engine,
		tickPeriod:   tickPeriod,
		initialDelay: initialDelay,
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run campaigns for the distributed lease and, once held, ticks the
// driver on tickPeriod until the lease is lost or ctx is canceled. On
// lease loss it re-enters the campaign and repeats, per the design
// notes' explicit
//
//	loop { lease ← acquire(); schedule(tick); wait(lease.onLost()); schedule.cancel() }
//
// pattern, rather than the original's recursive self-restart.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		held, err := d.locker.Acquire(ctx)
		if err != nil {
			return errors.Wrap(err, "acquire safe-point-update lease")
		}
		d.metrics.SetLeaseHeld(true)

		termCtx, cancelTerm := context.WithCancel(ctx)
		done := make(chan struct{})
		go d.scheduleLoop(termCtx, done)

		select {
		case <-held.Lost():
			log.Warn("safe-point-update lease lost, suspending ticks")
		case <-ctx.Done():
		}
		cancelTerm()
		<-done
		d.metrics.SetLeaseHeld(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// scheduleLoop runs the fixed-period tick loop for a single lease term,
// starting after initialDelay and stopping when ctx is canceled. done is
// closed on exit so Run can join before re-campaigning.
func (d *Driver) scheduleLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(d.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.tick(ctx)
			timer.Reset(d.tickPeriod)
		}
	}
}

// tick runs exactly one safe-point computation and publish cycle,
// guarded by the re-entrancy latch so an overrunning tick never overlaps
// the next (spec.md invariant P7: "never run two ticks concurrently").
func (d *Driver) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		log.Warn("previous tick still running, skipping this one")
		d.metrics.ObserveTick(TickResultSkipped, 0)
		return
	}
	defer atomic.StoreInt32(&d.running, 0)

	start := time.Now()
	err := d.runOnce(ctx)
	elapsed := time.Since(start)

	if err != nil {
		log.Error("safe-point driver tick failed", zap.Error(err))
		d.metrics.ObserveTick(TickResultFailed, elapsed)
		return
	}
	d.metrics.ObserveTick(TickResultSuccess, elapsed)
}

// runOnce implements spec.md §4.2's single-tick body: snapshot reqTs,
// compute the candidate safe point, scan-and-resolve it down as far as
// locks require, then publish the final value minus one, unless the
// safe-point-update-disable key is set.
func (d *Driver) runOnce(ctx context.Context) error {
	reqTs, err := d.tso.TSO(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch req ts")
	}

	candidate, err := d.computer.Compute(ctx, reqTs)
	if err != nil {
		return errors.Wrap(err, "compute candidate safe ts")
	}

	final, err := d.engine.Run(ctx, reqTs, candidate)
	if err != nil {
		return errors.Wrap(err, "scan and resolve")
	}

	disabled, err := d.updateDisabled(ctx)
	if err != nil {
		return err
	}
	if disabled {
		log.Info("safe-point-update-disable is set, skipping publish", zap.Uint64("computed-safe-point", uint64(final)))
		return nil
	}

	// The final published value trails the resolved safeTs by one so that
	// no reader holding exactly that timestamp is ever invalidated, per
	// spec.md §2 ("final (possibly lowered) safeTs - 1 is published").
	published := final - 1
	if err := d.coordinator.UpdateGCSafePoint(ctx, reqTs, published); err != nil {
		return errors.Wrap(err, "publish gc safe point")
	}

	log.Info("published gc safe point", zap.Uint64("safe-point", uint64(published)))
	d.metrics.SetSafePoint(published)
	return nil
}

// updateDisabled reports whether the safe-point-update-disable control key
// is currently set, per the REDESIGN FLAG resolved in spec.md/SPEC_FULL.md
// §3.1: when set, this driver never calls UpdateGCSafePoint at all, rather
// than the original's behavior of logging a skip and calling anyway.
func (d *Driver) updateDisabled(ctx context.Context) (bool, error) {
	_, found, err := d.coordinator.KVRange(ctx, coordclient.KeySafePointUpdateDisable)
	if err != nil {
		return false, errors.Wrap(err, "read safe-point-update-disable control key")
	}
	return found, nil
}
