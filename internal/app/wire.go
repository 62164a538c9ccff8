package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/piaqi001/funding-rate-bot/internal/blob/s3"
	"github.com/piaqi001/funding-rate-bot/internal/cache/redis"
	"github.com/piaqi001/funding-rate-bot/internal/config"
	"github.com/piaqi001/funding-rate-bot/internal/domain"
	"github.com/piaqi001/funding-rate-bot/internal/notify"
	"github.com/piaqi001/funding-rate-bot/internal/store/postgres"
	"github.com/piaqi001/funding-rate-bot/internal/venue/paper"
)

// paperStartingBalance seeds simulated venues with enough margin for the
// default position limits.
const paperStartingBalance = 10_000

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	RateStore  domain.RateStore
	OrderStore domain.OrderStore
	TradeStore domain.TradeStore
	PnLStore   domain.PnLStore
	AuditStore domain.AuditStore

	// Caches
	SpreadCache domain.SpreadCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil unless archiving is enabled)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Venue adapters
	Venues domain.VenuePair

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.RateStore = postgres.NewRateStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.PnLStore = postgres.NewPnLStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SpreadCache = redis.NewSpreadCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archiving is on) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.Archiver = s3blob.NewArchiver(
			logger,
			writer,
			s3blob.NewReader(s3Client),
			deps.RateStore,
			deps.TradeStore,
			deps.OrderStore,
			deps.AuditStore,
		)
	}

	// --- Venue adapters ---
	venueA, err := buildVenue(cfg.Venues.A, cfg.Mode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venue a: %w", err)
	}
	venueB, err := buildVenue(cfg.Venues.B, cfg.Mode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venue b: %w", err)
	}
	deps.Venues = domain.VenuePair{A: venueA, B: venueB}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(logger, senders, cfg.Notify.Events)

	return deps, cleanup, nil
}

// buildVenue constructs one venue adapter. Paper mode forces the simulated
// adapter regardless of the configured kind; other kinds must be compiled in.
func buildVenue(vc config.VenueConfig, mode string) (domain.VenueAdapter, error) {
	kind := strings.ToLower(vc.Kind)
	if strings.EqualFold(mode, "paper") {
		kind = "paper"
	}

	switch kind {
	case "paper":
		return paper.New(paper.Options{
			Name:         domain.Venue(vc.Name),
			Balance:      paperStartingBalance,
			TakerFeeRate: vc.TakerFeeBps / 10_000,
		}), nil
	default:
		return nil, fmt.Errorf("unknown venue kind %q for %s", vc.Kind, vc.Name)
	}
}
