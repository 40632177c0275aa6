// Command gcdriver runs the distributed GC safe-point driver as a
// standalone process: it campaigns for the cluster-wide safe-point-update
// lease and, once it holds it, ticks the safe-point computation and
// scan-and-resolve engine on a fixed schedule. Supplements the original
// implementation's in-process task with an independently runnable binary,
// matching scheduler/cmd/pd-server/main.go's flag/TOML/signal shape.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/HaotMan/dingo/internal/coordclient"
	"github.com/HaotMan/dingo/internal/config"
	"github.com/HaotMan/dingo/internal/driver"
	"github.com/HaotMan/dingo/internal/lease"
	"github.com/HaotMan/dingo/internal/logutil"
	"github.com/HaotMan/dingo/internal/metrics"
	"github.com/HaotMan/dingo/internal/peerapi"
	"github.com/HaotMan/dingo/internal/peerlock"
	"github.com/HaotMan/dingo/internal/regionrouter"
	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/HaotMan/dingo/internal/safepoint"
	"github.com/HaotMan/dingo/internal/scanresolve"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])

	defer logutil.LogPanic()

	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if err := logutil.Setup(&cfg.Log); err != nil {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	defer log.Sync()

	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}

	drv, closeAll, err := build(cfg)
	if err != nil {
		log.Fatal("build gc driver failed", zap.Error(err))
	}
	defer closeAll()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	var sig os.Signal
	go func() {
		sig = <-sc
		cancel()
	}()

	if err := drv.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
		log.Error("gc driver stopped with error", zap.Error(err))
	}

	log.Info("got signal to exit", zap.Stringer("signal", sig))
	exit(0)
}

// build wires every collaborator per SPEC_FULL.md §5's package layout,
// returning the assembled Driver and a cleanup func that releases every
// connection it opened.
func build(cfg *config.Config) (*driver.Driver, func(), error) {
	sec := rpcutil.Security{CAPath: cfg.Security.CAPath, CertPath: cfg.Security.CertPath, KeyPath: cfg.Security.KeyPath}

	coordinator, err := coordclient.NewClient(cfg.Coordinators, sec)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create coordinator client")
	}

	etcdCli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Coordinators,
		DialTimeout: cfg.CoordinatorCallTimeout(),
	})
	if err != nil {
		coordinator.Close()
		return nil, nil, errors.Wrap(err, "create etcd client")
	}

	tso := tsoclient.NewClient(tsoRPCCaller(cfg.Coordinators, sec))

	router := regionrouter.NewRouter(coordinator, sec, cfg.RegionClientTTL())

	locker := lease.NewLocker(etcdCli, cfg.LeaderLease())

	cluster := peerapi.NewClusterService(coordinator, sec)
	aggregator := peerlock.NewAggregator(noLocalLocks{}, cluster, cfg.LocalLocation)

	computer := safepoint.NewComputer(coordinator, tso, aggregator, safepoint.WithMetrics(metrics.NewSafePointMetrics()))
	engine := scanresolve.NewEngine(coordinator, router, cfg.ScanLimit, scanresolve.WithMetrics(metrics.NewScanResolveMetrics()))

	drv := driver.New(locker, tso, coordinator, computer, engine, cfg.TickPeriod(), cfg.InitialDelay(), driver.WithMetrics(metrics.NewDriverMetrics()))

	serveMetrics()

	cleanup := func() {
		coordinator.Close()
		router.Close()
		etcdCli.Close()
	}
	return drv, cleanup, nil
}

// noLocalLocks reports no table locks of its own. This driver runs as a
// standalone process rather than embedded in the computing node that
// actually holds row/table locks (region storage engine and lock-table
// internals are out of scope per spec.md §1); a real deployment embedding
// this package alongside a computing node would supply its live lock
// table here instead.
type noLocalLocks struct{}

func (noLocalLocks) TableLocks() []peerlock.TableLock { return nil }

const tsoMethod = "/dingo.tso.TimestampOracle/Tso"

type tsoRequest struct{}
type tsoResponse struct {
	Physical int64 `json:"physical"`
	Logical  int64 `json:"logical"`
}

// tsoRPCCaller returns the single-shot RPC function tsoclient.NewClient
// needs, dialling the coordinator's own timestamp-oracle RPC surface. The
// TSO implementation itself is out of scope (spec.md §1); this is only
// the client-side call.
func tsoRPCCaller(addrs []string, sec rpcutil.Security) func(ctx context.Context) (tsoclient.Timestamp, error) {
	conns := rpcutil.NewConnCache(sec)
	return func(ctx context.Context) (tsoclient.Timestamp, error) {
		var lastErr error
		for _, addr := range addrs {
			conn, err := conns.Get(addr)
			if err != nil {
				lastErr = err
				continue
			}
			var resp tsoResponse
			if err := conn.Invoke(ctx, tsoMethod, &tsoRequest{}, &resp, rpcutil.CallOpt()); err != nil {
				lastErr = err
				continue
			}
			return tsoclient.Compose(resp.Physical, resp.Logical), nil
		}
		return 0, errors.Wrapf(lastErr, "all coordinator endpoints failed for Tso")
	}
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		log.Warn("failed to start metrics listener", zap.Error(err))
		return
	}
	log.Info("serving prometheus metrics", zap.Stringer("addr", ln.Addr()))
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
