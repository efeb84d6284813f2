// Package config defines the polymercado configuration surface and its
// layering: baked defaults, TOML file, runtime DB-backed overrides, and
// environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file over Defaults(), then overridden by app_config rows and
// environment variables (see loader.go).
type Config struct {
	Database   DatabaseConfig    `toml:"database"`
	Redis      RedisConfig       `toml:"redis"`
	S3         S3Config          `toml:"s3"`
	Polymarket PolymarketConfig  `toml:"polymarket"`
	HTTP       HTTPConfig        `toml:"http"`
	Sync       SyncConfig        `toml:"sync"`
	Universe   UniverseConfig    `toml:"universe"`
	Trades     TradeSignalConfig `toml:"trade_signals"`
	Arb        ArbConfig         `toml:"arb"`
	Alerts     AlertConfig       `toml:"alerts"`
	Websocket  WebsocketConfig   `toml:"websocket"`
	Server     ServerConfig      `toml:"server"`
	Retention  RetentionConfig   `toml:"retention"`
	LogLevel   string            `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds parameters for the optional live signal bus and book
// mirror. Leave Addr empty to disable Redis entirely.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds parameters for the optional cold-storage archive. Leave
// Bucket empty to disable archival exports.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds the upstream API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	ClobHost  string `toml:"clob_host"`
	DataHost  string `toml:"data_host"`
}

// HTTPConfig holds HTTP client pool parameters.
type HTTPConfig struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"`
	MaxConcurrency int     `toml:"max_concurrency"`
	MaxAttempts    int     `toml:"max_attempts"`
}

// SyncConfig holds scheduling intervals and paging caps for the fetch jobs.
type SyncConfig struct {
	GammaEventsIntervalSeconds int `toml:"gamma_events_interval_seconds"`
	TagsIntervalSeconds        int `toml:"tags_interval_seconds"`
	UniverseIntervalSeconds    int `toml:"universe_interval_seconds"`
	OIIntervalSeconds          int `toml:"oi_interval_seconds"`
	TradesIntervalSeconds      int `toml:"trades_interval_seconds"`
	BooksIntervalSeconds       int `toml:"books_interval_seconds"`
	PositionsIntervalSeconds   int `toml:"positions_interval_seconds"`
	SignalsIntervalSeconds     int `toml:"signals_interval_seconds"`
	AlertsIntervalSeconds      int `toml:"alerts_interval_seconds"`
	QualityIntervalSeconds     int `toml:"quality_interval_seconds"`
	RetentionIntervalSeconds   int `toml:"retention_interval_seconds"`

	GammaEventsPageLimit int `toml:"gamma_events_page_limit"`
	GammaEventsMaxPages  int `toml:"gamma_events_max_pages"`
	TagsPageLimit        int `toml:"tags_page_limit"`
	TagsMaxPages         int `toml:"tags_max_pages"`

	TradesPageLimit            int `toml:"trades_page_limit"`
	TradesMaxPages             int `toml:"trades_max_pages"`
	TradeSafetyWindowSeconds   int `toml:"trade_safety_window_seconds"`
	TradesInitialLookbackHours int `toml:"trades_initial_lookback_hours"`

	PositionsPageLimit     int     `toml:"positions_page_limit"`
	PositionsSizeThreshold float64 `toml:"positions_size_threshold"`

	OrderbookSnapshotIntervalSeconds int `toml:"orderbook_snapshot_interval_seconds"`
}

// UniverseConfig controls tracked-market selection.
type UniverseConfig struct {
	MaxTrackedMarkets int      `toml:"max_tracked_markets"`
	MinGammaVolume    float64  `toml:"min_gamma_volume"`
	MinGammaLiquidity float64  `toml:"min_gamma_liquidity"`
	MinOpenInterest   float64  `toml:"min_open_interest"`
	ManualConditions  []string `toml:"manual_conditions"`
}

// TradeSignalConfig controls the large-trade / wallet signal engine.
type TradeSignalConfig struct {
	TakerOnly                      bool    `toml:"taker_only"`
	LargeTradeUSDThreshold         float64 `toml:"large_trade_usd_threshold"`
	NewWalletWindowDays            int     `toml:"new_wallet_window_days"`
	DormantWindowDays              int     `toml:"dormant_window_days"`
	TrackWalletDaysAfterLargeTrade int     `toml:"track_wallet_days_after_large_trade"`
}

// ArbConfig controls the depth-aware binary arbitrage evaluator.
type ArbConfig struct {
	EdgeMin               float64 `toml:"edge_min"`
	MinExecutableShares   float64 `toml:"min_executable_shares"`
	MaxSharesToEvaluate   float64 `toml:"max_shares_to_evaluate"`
	MaxBookAgeSeconds     int     `toml:"max_book_age_seconds"`
	MarketCooldownSeconds int     `toml:"market_cooldown_seconds"`
	TakerFeeBps           float64 `toml:"taker_fee_bps"`
}

// AlertRule is one ordered routing rule. Zero-valued match fields are
// wildcards; the first matching rule decides channels and cooldown.
type AlertRule struct {
	SignalTypes     []string `toml:"signal_types"`
	MinSeverity     int      `toml:"min_severity"`
	MaxSeverity     int      `toml:"max_severity"`
	Channels        []string `toml:"channels"`
	CooldownSeconds int      `toml:"cooldown_seconds"`
	QuietStartHour  *int     `toml:"quiet_start_hour"`
	QuietEndHour    *int     `toml:"quiet_end_hour"`
}

// AlertConfig controls the alert dispatcher and its channels.
type AlertConfig struct {
	Enabled            bool        `toml:"enabled"`
	Channels           []string    `toml:"channels"`
	DedupWindowSeconds int         `toml:"dedup_window_seconds"`
	MinSeverity        int         `toml:"min_severity"`
	MaxAttempts        int         `toml:"max_attempts"`
	Rules              []AlertRule `toml:"rules"`

	SlackWebhookURL  string   `toml:"slack_webhook_url"`
	TelegramBotToken string   `toml:"telegram_bot_token"`
	TelegramChatID   string   `toml:"telegram_chat_id"`
	SMTPHost         string   `toml:"smtp_host"`
	SMTPPort         int      `toml:"smtp_port"`
	SMTPUser         string   `toml:"smtp_user"`
	SMTPPassword     string   `toml:"smtp_password"`
	EmailFrom        string   `toml:"email_from"`
	EmailTo          []string `toml:"email_to"`

	DetailBaseURL string `toml:"detail_base_url"`
}

// WebsocketConfig controls the CLOB market-channel consumer.
type WebsocketConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	FallbackURLs []string `toml:"fallback_urls"`
	MaxAssets    int      `toml:"max_assets"`
	PingSeconds  int      `toml:"ping_seconds"`
}

// ServerConfig holds the status/metrics HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// RetentionConfig controls time-series age-out and cold-storage export.
type RetentionConfig struct {
	MetricsMinuteDays int  `toml:"metrics_minute_days"`
	MetricsHourlyDays int  `toml:"metrics_hourly_days"`
	TradeDays         int  `toml:"trade_days"`
	ArchiveToS3       bool `toml:"archive_to_s3"`
}

// Defaults returns a Config populated with the baked-in default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polymercado",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 10,
			MaxConcurrency: 10,
			MaxAttempts:    3,
		},
		Sync: SyncConfig{
			GammaEventsIntervalSeconds:       600,
			TagsIntervalSeconds:              21600,
			UniverseIntervalSeconds:          900,
			OIIntervalSeconds:                300,
			TradesIntervalSeconds:            45,
			BooksIntervalSeconds:             20,
			PositionsIntervalSeconds:         600,
			SignalsIntervalSeconds:           45,
			AlertsIntervalSeconds:            10,
			QualityIntervalSeconds:           900,
			RetentionIntervalSeconds:         3600,
			GammaEventsPageLimit:             100,
			GammaEventsMaxPages:              50,
			TagsPageLimit:                    100,
			TagsMaxPages:                     20,
			TradesPageLimit:                  500,
			TradesMaxPages:                   20,
			TradeSafetyWindowSeconds:         300,
			TradesInitialLookbackHours:       24,
			PositionsPageLimit:               200,
			PositionsSizeThreshold:           1,
			OrderbookSnapshotIntervalSeconds: 300,
		},
		Universe: UniverseConfig{
			MaxTrackedMarkets: 200,
			MinGammaVolume:    50_000,
			MinGammaLiquidity: 10_000,
			MinOpenInterest:   5_000,
		},
		Trades: TradeSignalConfig{
			TakerOnly:                      true,
			LargeTradeUSDThreshold:         10_000,
			NewWalletWindowDays:            14,
			DormantWindowDays:              30,
			TrackWalletDaysAfterLargeTrade: 7,
		},
		Arb: ArbConfig{
			EdgeMin:               0.01,
			MinExecutableShares:   50,
			MaxSharesToEvaluate:   5000,
			MaxBookAgeSeconds:     10,
			MarketCooldownSeconds: 60,
			TakerFeeBps:           0,
		},
		Alerts: AlertConfig{
			Enabled:            false,
			DedupWindowSeconds: 600,
			MinSeverity:        2,
			MaxAttempts:        3,
			SMTPPort:           587,
		},
		Websocket: WebsocketConfig{
			Enabled:     false,
			URL:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			MaxAssets:   400,
			PingSeconds: 10,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Retention: RetentionConfig{
			MetricsMinuteDays: 30,
			MetricsHourlyDays: 365,
			TradeDays:         365,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validChannels enumerates the alert channel driver names.
var validChannels = map[string]bool{
	"log":      true,
	"slack":    true,
	"telegram": true,
	"email":    true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. A non-nil error is fatal: the process
// refuses to start.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Upstreams
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}

	// HTTP pool
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, "http: timeout_seconds must be > 0")
	}
	if c.HTTP.MaxConcurrency < 1 {
		errs = append(errs, "http: max_concurrency must be >= 1")
	}
	if c.HTTP.MaxAttempts < 3 {
		errs = append(errs, "http: max_attempts must be >= 3")
	}

	// Universe
	if c.Universe.MaxTrackedMarkets < 1 {
		errs = append(errs, "universe: max_tracked_markets must be >= 1")
	}

	// Trade signals
	if c.Trades.LargeTradeUSDThreshold <= 0 {
		errs = append(errs, "trade_signals: large_trade_usd_threshold must be > 0")
	}
	if c.Trades.NewWalletWindowDays < 0 || c.Trades.DormantWindowDays < 0 {
		errs = append(errs, "trade_signals: window days must be >= 0")
	}

	// Arb
	if c.Arb.EdgeMin <= 0 || c.Arb.EdgeMin > 0.05 {
		errs = append(errs, fmt.Sprintf("arb: edge_min must be in (0, 0.05], got %v", c.Arb.EdgeMin))
	}
	if c.Arb.MinExecutableShares <= 0 {
		errs = append(errs, "arb: min_executable_shares must be > 0")
	}
	if c.Arb.MaxSharesToEvaluate < c.Arb.MinExecutableShares {
		errs = append(errs, "arb: max_shares_to_evaluate must be >= min_executable_shares")
	}
	if c.Arb.MaxBookAgeSeconds <= 0 {
		errs = append(errs, "arb: max_book_age_seconds must be > 0")
	}
	if c.Arb.TakerFeeBps < 0 {
		errs = append(errs, "arb: taker_fee_bps must be >= 0")
	}

	// Alerts
	if c.Alerts.Enabled {
		if len(c.Alerts.Channels) == 0 && len(c.Alerts.Rules) == 0 {
			errs = append(errs, "alerts: channels or rules must be set when enabled")
		}
		for _, ch := range c.Alerts.Channels {
			if !validChannels[ch] {
				errs = append(errs, fmt.Sprintf("alerts: unknown channel %q (valid: log, slack, telegram, email)", ch))
			}
		}
		if c.Alerts.MinSeverity < 1 || c.Alerts.MinSeverity > 5 {
			errs = append(errs, "alerts: min_severity must be 1-5")
		}
	}

	// Websocket
	if c.Websocket.Enabled {
		if c.Websocket.URL == "" {
			errs = append(errs, "websocket: url must not be empty when enabled")
		}
		if c.Websocket.MaxAssets < 1 {
			errs = append(errs, "websocket: max_assets must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
