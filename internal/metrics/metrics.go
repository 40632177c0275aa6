// Package metrics declares the gcdriver prometheus collectors and wires
// them to the driver.Metrics and scanresolve.Metrics collaborator
// interfaces. Collector shapes (Namespace/Subsystem/Name, *Vec label
// conventions) follow scheduler/server/metrics.go.
package metrics

import (
	"time"

	"github.com/HaotMan/dingo/internal/driver"
	"github.com/HaotMan/dingo/internal/safepoint"
	"github.com/HaotMan/dingo/internal/scanresolve"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gcdriver"

var (
	tickTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_total",
			Help:      "Counter of safe-point driver ticks by result.",
		}, []string{"result"})

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Bucketed histogram of the wall time spent in one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"result"})

	safePointGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safe_point",
			Help:      "The most recently published GC safe point, as a wall-clock millisecond value.",
		})

	leaseHeldGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lease_held",
			Help:      "1 if this process currently holds the safe-point-update lease, 0 otherwise.",
		})

	locksScannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_scanned_total",
			Help:      "Counter of locks returned by TxnScanLock across all regions.",
		})

	safeTsDowngradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safe_ts_downgrades_total",
			Help:      "Counter of safe ts downgrades during scan-and-resolve, by reason.",
		}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		tickTotal,
		tickDuration,
		safePointGauge,
		leaseHeldGauge,
		locksScannedTotal,
		safeTsDowngradesTotal,
	)
}

// driverMetrics adapts the package-level collectors to driver.Metrics.
type driverMetrics struct{}

// scanResolveMetrics adapts the package-level collectors to
// scanresolve.Metrics.
type scanResolveMetrics struct{}

// safePointMetrics adapts the package-level collectors to
// safepoint.Metrics.
type safePointMetrics struct{}

// NewDriverMetrics returns the driver.Metrics implementation backed by
// this package's collectors.
func NewDriverMetrics() driver.Metrics { return driverMetrics{} }

// NewScanResolveMetrics returns the scanresolve.Metrics implementation
// backed by this package's collectors.
func NewScanResolveMetrics() scanresolve.Metrics { return scanResolveMetrics{} }

// NewSafePointMetrics returns the safepoint.Metrics implementation backed
// by this package's collectors.
func NewSafePointMetrics() safepoint.Metrics { return safePointMetrics{} }

func (safePointMetrics) ObserveDowngrade(reason safepoint.DowngradeReason) {
	safeTsDowngradesTotal.WithLabelValues(string(reason)).Inc()
}

func (driverMetrics) ObserveTick(result driver.TickResult, d time.Duration) {
	tickTotal.WithLabelValues(string(result)).Inc()
	tickDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (driverMetrics) SetSafePoint(ts tsoclient.Timestamp) {
	safePointGauge.Set(float64(tsoclient.Physical(ts)))
}

func (driverMetrics) SetLeaseHeld(held bool) {
	if held {
		leaseHeldGauge.Set(1)
		return
	}
	leaseHeldGauge.Set(0)
}

func (scanResolveMetrics) ObserveLocksScanned(n int) {
	locksScannedTotal.Add(float64(n))
}

func (scanResolveMetrics) ObserveDowngrade(reason scanresolve.DowngradeReason) {
	safeTsDowngradesTotal.WithLabelValues(string(reason)).Inc()
}
