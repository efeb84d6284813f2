package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/polymercado/engine/internal/blob/s3"
	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/cache/redis"
	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/notify"
	"github.com/polymercado/engine/internal/platform/httpclient"
	"github.com/polymercado/engine/internal/platform/polymarket"
	"github.com/polymercado/engine/internal/store/postgres"
	"github.com/polymercado/engine/internal/universe"
)

// Dependencies bundles every constructed dependency the run loop needs.
type Dependencies struct {
	Runtime *config.Runtime

	// Stores
	Markets  domain.MarketStore
	Tags     domain.TagStore
	Trades   domain.TradeStore
	Wallets  domain.WalletStore
	Metrics  domain.MetricStore
	Books    domain.OrderbookStore
	Signals  domain.SignalStore
	AlertLog domain.AlertStore
	Config   domain.ConfigStore
	Jobs     domain.JobStore

	// Shared state
	BookCache *bookcache.Cache
	Tracker   *universe.Tracker

	// Upstream clients
	Pool  *httpclient.Client
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient
	Data  *polymarket.DataClient

	// Optional live plumbing
	SignalBus  domain.SignalBus
	BookMirror *redis.BookMirror
	ColdStore  *s3blob.Archive

	// Alert channels
	Senders notify.Registry
}

// Wire constructs all concrete dependencies from the given configuration and
// returns them with a cleanup function that releases resources in reverse
// order.
func Wire(ctx context.Context, configPath string, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	db, err := postgres.Open(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, db.Close)

	if cfg.Database.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := db.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Tags = postgres.NewTagStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Wallets = postgres.NewWalletStore(pool)
	deps.Metrics = postgres.NewMetricStore(pool)
	deps.Books = postgres.NewOrderbookStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.AlertLog = postgres.NewAlertStore(pool)
	deps.Config = postgres.NewConfigStore(pool)
	deps.Jobs = postgres.NewJobStore(pool)

	// --- Runtime config (defaults < TOML < app_config rows < env) ---
	deps.Runtime = config.NewRuntime(configPath, deps.Config, cfg)
	if err := deps.Runtime.Reload(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: runtime config: %w", err)
	}
	cfg = deps.Runtime.Current()

	// --- Shared in-memory state ---
	deps.BookCache = bookcache.New()
	deps.Tracker = universe.New()

	// --- Upstream clients on one shared request pool ---
	deps.Pool = httpclient.New(
		time.Duration(cfg.HTTP.TimeoutSeconds*float64(time.Second)),
		cfg.HTTP.MaxConcurrency,
		cfg.HTTP.MaxAttempts,
		logger,
	)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, deps.Pool)
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Pool)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost, deps.Pool)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		deps.SignalBus = redis.NewSignalBus(rdb)
		deps.BookMirror = redis.NewBookMirror(rdb)
	}

	// --- S3 cold storage (optional) ---
	if cfg.S3.Bucket != "" {
		archive, err := s3blob.NewArchive(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.ColdStore = archive
	}

	// --- Alert channels ---
	deps.Senders = notify.NewRegistry(cfg.Alerts, logger)

	return deps, cleanup, nil
}
