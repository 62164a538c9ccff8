// Package config defines the top-level configuration for the funding
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDBOT_* environment variables.
type Config struct {
	Venues    VenuesConfig   `toml:"venues"`
	Postgres  PostgresConfig `toml:"postgres"`
	Redis     RedisConfig    `toml:"redis"`
	S3        S3Config       `toml:"s3"`
	Market    MarketConfig   `toml:"market"`
	Strategy  StrategyConfig `toml:"strategy"`
	Execution ExecConfig     `toml:"execution"`
	Risk      RiskConfig     `toml:"risk"`
	Archive   ArchiveConfig  `toml:"archive"`
	Notify    NotifyConfig   `toml:"notify"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
}

// VenuesConfig names the two venues the strategy trades across and selects
// their adapter kinds. Kind "paper" is built in; other kinds must be
// registered by the embedding build.
type VenuesConfig struct {
	A VenueConfig `toml:"a"`
	B VenueConfig `toml:"b"`
}

// VenueConfig holds per-venue adapter parameters.
type VenueConfig struct {
	Name        string  `toml:"name"`
	Kind        string  `toml:"kind"`
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	APISecret   string  `toml:"api_secret"`
	TakerFeeBps float64 `toml:"taker_fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketConfig holds market-data aggregation parameters.
type MarketConfig struct {
	Symbols       []string `toml:"symbols"`
	RateInterval  duration `toml:"rate_interval"`
	PriceInterval duration `toml:"price_interval"`
	WindowHorizon duration `toml:"window_horizon"`
	StaleAfter    duration `toml:"stale_after"`
}

// StrategyConfig holds opportunity detection parameters.
type StrategyConfig struct {
	FundingRateThreshold float64  `toml:"funding_rate_threshold"`
	NotionalPerTrade     float64  `toml:"notional_per_trade"`
	MaxTotalPosition     float64  `toml:"max_total_position"`
	Leverage             int      `toml:"leverage"`
	AutoExecute          bool     `toml:"auto_execute"`
	AutoClose            bool     `toml:"auto_close"`
	MaxHolding           duration `toml:"max_holding"`
}

// ExecConfig holds order execution parameters.
type ExecConfig struct {
	BatchFraction         float64  `toml:"batch_fraction"`
	MinBatchNotional      float64  `toml:"min_batch_notional"`
	FillTolerance         float64  `toml:"fill_tolerance"`
	MinViableFillFraction float64  `toml:"min_viable_fill_fraction"`
	FillPollInterval      duration `toml:"fill_poll_interval"`
	BatchTimeout          duration `toml:"batch_timeout"`
	MaxRetries            int      `toml:"max_retries"`
	RetryBackoff          duration `toml:"retry_backoff"`
	LockTTL               duration `toml:"lock_ttl"`
}

// RiskConfig holds risk monitoring parameters.
type RiskConfig struct {
	Interval           duration `toml:"interval"`
	MaxImbalance       float64  `toml:"max_imbalance"`
	StopLossPercent    float64  `toml:"stop_loss_percent"`
	TakeProfitPercent  float64  `toml:"take_profit_percent"`
	LiqSafetyMarginPct float64  `toml:"liq_safety_margin_pct"`
	MinBalance         float64  `toml:"min_balance"`
	BalanceInterval    duration `toml:"balance_interval"`
}

// ArchiveConfig holds cold-storage retention parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venues: VenuesConfig{
			A: VenueConfig{Name: "lighter", Kind: "paper", TakerFeeBps: 2.0},
			B: VenueConfig{Name: "binance", Kind: "paper", TakerFeeBps: 4.0},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "funding_arbitrage",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundingbot-data",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			Symbols:       []string{"BTCUSDC", "ETHUSDC"},
			RateInterval:  duration{time.Minute},
			PriceInterval: duration{10 * time.Second},
			WindowHorizon: duration{8 * time.Hour},
			StaleAfter:    duration{3 * time.Minute},
		},
		Strategy: StrategyConfig{
			FundingRateThreshold: 0.01,
			NotionalPerTrade:     100.0,
			MaxTotalPosition:     1000.0,
			Leverage:             3,
			AutoExecute:          false,
			AutoClose:            true,
			MaxHolding:           duration{168 * time.Hour},
		},
		Execution: ExecConfig{
			BatchFraction:         0.25,
			MinBatchNotional:      10.0,
			FillTolerance:         0.01,
			MinViableFillFraction: 0.5,
			FillPollInterval:      duration{500 * time.Millisecond},
			BatchTimeout:          duration{30 * time.Second},
			MaxRetries:            3,
			RetryBackoff:          duration{2 * time.Second},
			LockTTL:               duration{2 * time.Minute},
		},
		Risk: RiskConfig{
			Interval:           duration{5 * time.Second},
			MaxImbalance:       200.0,
			StopLossPercent:    0.20,
			TakeProfitPercent:  0.20,
			LiqSafetyMarginPct: 0.05,
			MinBalance:         100.0,
			BalanceInterval:    duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{6 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "order_opened", "order_closed", "order_failed", "risk_alert"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues
	if c.Venues.A.Name == "" || c.Venues.B.Name == "" {
		errs = append(errs, "venues: both a.name and b.name must be set")
	}
	if c.Venues.A.Name == c.Venues.B.Name {
		errs = append(errs, "venues: a and b must name different venues")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive needs S3.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Market
	if len(c.Market.Symbols) == 0 {
		errs = append(errs, "market: at least one symbol is required")
	}
	if c.Market.RateInterval.Duration <= 0 {
		errs = append(errs, "market: rate_interval must be > 0")
	}
	if c.Market.PriceInterval.Duration <= 0 {
		errs = append(errs, "market: price_interval must be > 0")
	}
	if c.Market.WindowHorizon.Duration <= 0 {
		errs = append(errs, "market: window_horizon must be > 0")
	}

	// Strategy
	if c.Strategy.FundingRateThreshold <= 0 {
		errs = append(errs, "strategy: funding_rate_threshold must be > 0")
	}
	if c.Strategy.NotionalPerTrade <= 0 {
		errs = append(errs, "strategy: notional_per_trade must be > 0")
	}
	if c.Strategy.MaxTotalPosition < c.Strategy.NotionalPerTrade {
		errs = append(errs, "strategy: max_total_position must be >= notional_per_trade")
	}
	if c.Strategy.Leverage < 1 {
		errs = append(errs, "strategy: leverage must be >= 1")
	}

	// Execution
	if c.Execution.BatchFraction <= 0 || c.Execution.BatchFraction > 1 {
		errs = append(errs, fmt.Sprintf("execution: batch_fraction must be in (0, 1], got %g", c.Execution.BatchFraction))
	}
	if c.Execution.MinViableFillFraction <= 0 || c.Execution.MinViableFillFraction > 1 {
		errs = append(errs, "execution: min_viable_fill_fraction must be in (0, 1]")
	}
	if c.Execution.FillTolerance < 0 || c.Execution.FillTolerance >= 1 {
		errs = append(errs, "execution: fill_tolerance must be in [0, 1)")
	}
	if c.Execution.BatchTimeout.Duration <= 0 {
		errs = append(errs, "execution: batch_timeout must be > 0")
	}

	// Risk
	if c.Risk.Interval.Duration <= 0 {
		errs = append(errs, "risk: interval must be > 0")
	}
	if c.Risk.MaxImbalance <= 0 {
		errs = append(errs, "risk: max_imbalance must be > 0")
	}
	if c.Risk.StopLossPercent <= 0 || c.Risk.StopLossPercent >= 1 {
		errs = append(errs, "risk: stop_loss_percent must be in (0, 1)")
	}
	if c.Risk.TakeProfitPercent <= 0 || c.Risk.TakeProfitPercent >= 1 {
		errs = append(errs, "risk: take_profit_percent must be in (0, 1)")
	}
	if c.Risk.LiqSafetyMarginPct < 0 || c.Risk.LiqSafetyMarginPct >= 1 {
		errs = append(errs, "risk: liq_safety_margin_pct must be in [0, 1)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
