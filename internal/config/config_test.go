package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Strategy.FundingRateThreshold = 0
	cfg.Execution.BatchFraction = 1.5
	cfg.Risk.StopLossPercent = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "funding_rate_threshold")
	assert.Contains(t, err.Error(), "batch_fraction")
	assert.Contains(t, err.Error(), "stop_loss_percent")
}

func TestValidateVenuesMustDiffer(t *testing.T) {
	cfg := Defaults()
	cfg.Venues.B.Name = cfg.Venues.A.Name
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different venues")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "monitor"
log_level = "debug"

[strategy]
funding_rate_threshold = 0.02
leverage = 5

[market]
window_horizon = "4h"
symbols = ["SOLUSDC"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.02, cfg.Strategy.FundingRateThreshold)
	assert.Equal(t, 5, cfg.Strategy.Leverage)
	assert.Equal(t, 4*time.Hour, cfg.Market.WindowHorizon.Duration)
	assert.Equal(t, []string{"SOLUSDC"}, cfg.Market.Symbols)

	// Untouched sections keep defaults.
	assert.Equal(t, 0.25, cfg.Execution.BatchFraction)
	assert.Equal(t, 200.0, cfg.Risk.MaxImbalance)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FUNDBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FUNDBOT_STRATEGY_NOTIONAL_PER_TRADE", "250")
	t.Setenv("FUNDBOT_STRATEGY_AUTO_EXECUTE", "true")
	t.Setenv("FUNDBOT_EXECUTION_BATCH_TIMEOUT", "45s")
	t.Setenv("FUNDBOT_MARKET_SYMBOLS", "BTCUSDC, ETHUSDC ,SOLUSDC")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 250.0, cfg.Strategy.NotionalPerTrade)
	assert.True(t, cfg.Strategy.AutoExecute)
	assert.Equal(t, 45*time.Second, cfg.Execution.BatchTimeout.Duration)
	assert.Equal(t, []string{"BTCUSDC", "ETHUSDC", "SOLUSDC"}, cfg.Market.Symbols)
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("FUNDBOT_STRATEGY_LEVERAGE", "not-a-number")
	t.Setenv("FUNDBOT_RISK_INTERVAL", "soon")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 3, cfg.Strategy.Leverage)
	assert.Equal(t, 5*time.Second, cfg.Risk.Interval.Duration)
}
