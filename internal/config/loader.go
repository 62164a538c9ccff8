package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	setStr(&cfg.Venues.A.Name, "FUNDBOT_VENUE_A_NAME")
	setStr(&cfg.Venues.A.Kind, "FUNDBOT_VENUE_A_KIND")
	setStr(&cfg.Venues.A.BaseURL, "FUNDBOT_VENUE_A_BASE_URL")
	setStr(&cfg.Venues.A.APIKey, "FUNDBOT_VENUE_A_API_KEY")
	setStr(&cfg.Venues.A.APISecret, "FUNDBOT_VENUE_A_API_SECRET")
	setStr(&cfg.Venues.B.Name, "FUNDBOT_VENUE_B_NAME")
	setStr(&cfg.Venues.B.Kind, "FUNDBOT_VENUE_B_KIND")
	setStr(&cfg.Venues.B.BaseURL, "FUNDBOT_VENUE_B_BASE_URL")
	setStr(&cfg.Venues.B.APIKey, "FUNDBOT_VENUE_B_API_KEY")
	setStr(&cfg.Venues.B.APISecret, "FUNDBOT_VENUE_B_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDBOT_S3_FORCE_PATH_STYLE")

	// ── Market ──
	setStringSlice(&cfg.Market.Symbols, "FUNDBOT_MARKET_SYMBOLS")
	setDuration(&cfg.Market.RateInterval, "FUNDBOT_MARKET_RATE_INTERVAL")
	setDuration(&cfg.Market.PriceInterval, "FUNDBOT_MARKET_PRICE_INTERVAL")
	setDuration(&cfg.Market.WindowHorizon, "FUNDBOT_MARKET_WINDOW_HORIZON")
	setDuration(&cfg.Market.StaleAfter, "FUNDBOT_MARKET_STALE_AFTER")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.FundingRateThreshold, "FUNDBOT_STRATEGY_FUNDING_RATE_THRESHOLD")
	setFloat64(&cfg.Strategy.NotionalPerTrade, "FUNDBOT_STRATEGY_NOTIONAL_PER_TRADE")
	setFloat64(&cfg.Strategy.MaxTotalPosition, "FUNDBOT_STRATEGY_MAX_TOTAL_POSITION")
	setInt(&cfg.Strategy.Leverage, "FUNDBOT_STRATEGY_LEVERAGE")
	setBool(&cfg.Strategy.AutoExecute, "FUNDBOT_STRATEGY_AUTO_EXECUTE")
	setBool(&cfg.Strategy.AutoClose, "FUNDBOT_STRATEGY_AUTO_CLOSE")
	setDuration(&cfg.Strategy.MaxHolding, "FUNDBOT_STRATEGY_MAX_HOLDING")

	// ── Execution ──
	setFloat64(&cfg.Execution.BatchFraction, "FUNDBOT_EXECUTION_BATCH_FRACTION")
	setFloat64(&cfg.Execution.MinBatchNotional, "FUNDBOT_EXECUTION_MIN_BATCH_NOTIONAL")
	setFloat64(&cfg.Execution.FillTolerance, "FUNDBOT_EXECUTION_FILL_TOLERANCE")
	setFloat64(&cfg.Execution.MinViableFillFraction, "FUNDBOT_EXECUTION_MIN_VIABLE_FILL_FRACTION")
	setDuration(&cfg.Execution.FillPollInterval, "FUNDBOT_EXECUTION_FILL_POLL_INTERVAL")
	setDuration(&cfg.Execution.BatchTimeout, "FUNDBOT_EXECUTION_BATCH_TIMEOUT")
	setInt(&cfg.Execution.MaxRetries, "FUNDBOT_EXECUTION_MAX_RETRIES")
	setDuration(&cfg.Execution.RetryBackoff, "FUNDBOT_EXECUTION_RETRY_BACKOFF")
	setDuration(&cfg.Execution.LockTTL, "FUNDBOT_EXECUTION_LOCK_TTL")

	// ── Risk ──
	setDuration(&cfg.Risk.Interval, "FUNDBOT_RISK_INTERVAL")
	setFloat64(&cfg.Risk.MaxImbalance, "FUNDBOT_RISK_MAX_IMBALANCE")
	setFloat64(&cfg.Risk.StopLossPercent, "FUNDBOT_RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.TakeProfitPercent, "FUNDBOT_RISK_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Risk.LiqSafetyMarginPct, "FUNDBOT_RISK_LIQ_SAFETY_MARGIN_PCT")
	setFloat64(&cfg.Risk.MinBalance, "FUNDBOT_RISK_MIN_BALANCE")
	setDuration(&cfg.Risk.BalanceInterval, "FUNDBOT_RISK_BALANCE_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FUNDBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FUNDBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FUNDBOT_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
