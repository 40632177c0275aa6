// Package config parses the gcdriver command-line flags and an optional
// TOML file into a Config, following the same flag-then-TOML-then-defaults
// shape as the PD server's own configuration loader.
package config

import (
	"flag"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
)

const (
	defaultTickPeriodSeconds     = 600
	defaultInitialDelaySeconds   = 1
	defaultScanLimit             = 1024
	defaultRegionClientTTLSec    = 30
	defaultLeaderLeaseSeconds    = 3
	defaultPeerDialTimeout       = 5 * time.Second
	defaultRegionCallTimeout     = 30 * time.Second
	defaultCoordinatorCallTimeout = 10 * time.Second
)

// SecurityConfig carries optional mTLS material for both the etcd client
// and the region/peer gRPC clients.
type SecurityConfig struct {
	CAPath   string `toml:"ca-path" json:"ca-path"`
	CertPath string `toml:"cert-path" json:"cert-path"`
	KeyPath  string `toml:"key-path" json:"key-path"`
}

// Config is the full set of options recognized by the GC safe-point driver.
type Config struct {
	*flag.FlagSet `json:"-"`

	configFile string

	// Coordinators is the set of coordinator (etcd-compatible versioned kv)
	// endpoints. Required, non-empty.
	Coordinators []string `toml:"coordinators" json:"coordinators"`

	// LocalLocation is this node's own network endpoint, used to exclude
	// itself when enumerating peers for the lock aggregator. Required.
	LocalLocation string `toml:"local-location" json:"local-location"`

	// TickPeriodSeconds is the fixed cadence of the driver's main loop.
	TickPeriodSeconds int64 `toml:"tick-period-seconds" json:"tick-period-seconds"`
	// InitialDelaySeconds is the delay after lease acquisition before the
	// first tick fires.
	InitialDelaySeconds int64 `toml:"initial-delay-seconds" json:"initial-delay-seconds"`
	// ScanLimit bounds the number of locks returned per scan-lock page.
	ScanLimit int64 `toml:"scan-limit" json:"scan-limit"`
	// RegionClientTTLSeconds is how long the region router caches a client
	// for a given region id before refreshing it.
	RegionClientTTLSeconds int64 `toml:"region-client-ttl-seconds" json:"region-client-ttl-seconds"`
	// LeaderLeaseSeconds is the etcd lease TTL backing the distributed
	// lease election.
	LeaderLeaseSeconds int64 `toml:"leader-lease-seconds" json:"leader-lease-seconds"`

	Log      log.Config     `toml:"log" json:"log"`
	Security SecurityConfig `toml:"security" json:"security"`

	WarningMsgs []string `json:"-"`
}

// NewConfig builds a Config with its flag set wired up but unparsed.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("gcdriver", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "path to a TOML config file")
	fs.StringVar(&cfg.LocalLocation, "local-location", "", "this node's network endpoint, used to exclude itself as a peer")
	fs.Int64Var(&cfg.TickPeriodSeconds, "tick-period-seconds", 0, "seconds between safe-point driver ticks")
	fs.Int64Var(&cfg.ScanLimit, "scan-limit", 0, "maximum locks returned per scan-lock page")
	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")
	fs.StringVar(&cfg.Security.CAPath, "cacert", "", "path of the trusted TLS CA bundle")
	fs.StringVar(&cfg.Security.CertPath, "cert", "", "path of the client TLS certificate")
	fs.StringVar(&cfg.Security.KeyPath, "key", "", "path of the client TLS key")

	return cfg
}

// Parse parses the flag arguments, overlays a TOML config file if one was
// named, and fills in defaults for anything left unset.
func (c *Config) Parse(arguments []string) error {
	if err := c.FlagSet.Parse(arguments); err != nil {
		return errors.WithStack(err)
	}

	if c.configFile != "" {
		if _, err := toml.DecodeFile(c.configFile, c); err != nil {
			return errors.Wrap(err, "decode config file")
		}
		// Flags re-parsed so they take precedence over the file.
		if err := c.FlagSet.Parse(arguments); err != nil {
			return errors.WithStack(err)
		}
	}

	c.adjust()
	return c.validate()
}

func (c *Config) adjust() {
	adjustInt64(&c.TickPeriodSeconds, defaultTickPeriodSeconds)
	adjustInt64(&c.InitialDelaySeconds, defaultInitialDelaySeconds)
	adjustInt64(&c.ScanLimit, defaultScanLimit)
	adjustInt64(&c.RegionClientTTLSeconds, defaultRegionClientTTLSec)
	adjustInt64(&c.LeaderLeaseSeconds, defaultLeaderLeaseSeconds)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if len(c.Coordinators) == 0 {
		return errors.New("coordinators must be non-empty")
	}
	if c.LocalLocation == "" {
		return errors.New("local-location is required")
	}
	return nil
}

func adjustInt64(v *int64, defValue int64) {
	if *v == 0 {
		*v = defValue
	}
}

// TickPeriod returns TickPeriodSeconds as a time.Duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodSeconds) * time.Second
}

// InitialDelay returns InitialDelaySeconds as a time.Duration.
func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// RegionClientTTL returns RegionClientTTLSeconds as a time.Duration.
func (c *Config) RegionClientTTL() time.Duration {
	return time.Duration(c.RegionClientTTLSeconds) * time.Second
}

// LeaderLease returns LeaderLeaseSeconds as a time.Duration.
func (c *Config) LeaderLease() time.Duration {
	return time.Duration(c.LeaderLeaseSeconds) * time.Second
}

// PeerDialTimeout returns the fixed 5 s peer timeout. No caller applies it:
// peer RPCs carry no per-call deadline of their own.
func (c *Config) PeerDialTimeout() time.Duration { return defaultPeerDialTimeout }

// RegionCallTimeout returns the fixed 30 s region/index shard timeout. No
// caller applies it: region RPCs carry no per-call deadline of their own.
func (c *Config) RegionCallTimeout() time.Duration { return defaultRegionCallTimeout }

// CoordinatorCallTimeout returns the fixed 10 s coordinator timeout. It is
// used only as the etcd client's dial timeout; coordinator gRPC calls
// carry no per-call deadline of their own.
func (c *Config) CoordinatorCallTimeout() time.Duration { return defaultCoordinatorCallTimeout }
