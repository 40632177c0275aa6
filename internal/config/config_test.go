package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	cfg := NewConfig()
	err := cfg.Parse([]string{"--local-location=127.0.0.1:2380"})
	require.Error(t, err, "coordinators is required and unset here")
	assert.Contains(t, err.Error(), "coordinators")

	cfg.Coordinators = []string{"127.0.0.1:2379"}
	require.NoError(t, cfg.validate())

	cfg.adjust()
	assert.EqualValues(t, defaultTickPeriodSeconds, cfg.TickPeriodSeconds)
	assert.EqualValues(t, defaultScanLimit, cfg.ScanLimit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseRejectsMissingLocalLocation(t *testing.T) {
	cfg := NewConfig()
	cfg.Coordinators = []string{"127.0.0.1:2379"}
	err := cfg.validate()
	assert.Error(t, err)
}

func TestDurationAccessors(t *testing.T) {
	cfg := NewConfig()
	cfg.TickPeriodSeconds = 60
	cfg.LeaderLeaseSeconds = 3

	assert.Equal(t, 60_000_000_000, int(cfg.TickPeriod()))
	assert.Equal(t, 3_000_000_000, int(cfg.LeaderLease()))
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg := NewConfig()
	// Coordinators has no flag binding (it's TOML-only, like the teacher's
	// own cluster-membership fields); exercise flag parsing and defaulting
	// directly rather than through the full Parse/validate path.
	err := cfg.FlagSet.Parse([]string{
		"--local-location=127.0.0.1:2380",
		"--tick-period-seconds=120",
		"--scan-limit=256",
	})
	require.NoError(t, err)
	cfg.adjust()

	assert.EqualValues(t, 120, cfg.TickPeriodSeconds)
	assert.EqualValues(t, 256, cfg.ScanLimit)
}
