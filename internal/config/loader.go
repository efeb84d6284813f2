package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when the file does
// not exist), merges it on top of the built-in defaults, and applies
// environment variable overrides. Runtime DB overrides are layered in later
// via ApplyOverrides once the store is available, after which env overrides
// are re-applied so the precedence stays defaults < TOML < DB < env.
//
// The returned Config has NOT been validated; call Config.Validate after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg.ApplyEnvOverrides()

	return &cfg, nil
}

// ApplyOverrides applies a set of runtime overrides keyed by the canonical
// setting names (the keys stored in the app_config table). Unknown keys are
// ignored.
func (c *Config) ApplyOverrides(overrides map[string]string) {
	for key, value := range overrides {
		if setter, ok := overrideSetters[key]; ok {
			setter(c, value)
		}
	}
}

// ApplyEnvOverrides reads the canonical setting names from the environment
// and overwrites the corresponding fields when set. This lets operators
// inject thresholds and secrets at deploy time without touching the TOML
// file.
func (c *Config) ApplyEnvOverrides() {
	for key, setter := range overrideSetters {
		if v := os.Getenv(key); v != "" {
			setter(c, v)
		}
	}
}

// Snapshot returns the current values of the named canonical keys, used to
// embed a config_snapshot object in signal payloads.
func (c *Config) Snapshot(keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if getter, ok := overrideGetters[key]; ok {
			out[key] = getter(c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Canonical key registry. Each runtime-overridable setting is addressed by
// one SCREAMING_SNAKE key shared by the app_config table, the environment,
// and config_snapshot payloads.
// ---------------------------------------------------------------------------

type setterFunc func(*Config, string)
type getterFunc func(*Config) any

var overrideSetters = map[string]setterFunc{
	"DATABASE_URL": func(c *Config, v string) { c.Database.DSN = v },

	"HTTP_TIMEOUT_SECONDS": func(c *Config, v string) { setFloat(&c.HTTP.TimeoutSeconds, v) },
	"HTTP_MAX_CONCURRENCY": func(c *Config, v string) { setInt(&c.HTTP.MaxConcurrency, v) },

	"SYNC_GAMMA_EVENTS_INTERVAL_SECONDS":  func(c *Config, v string) { setInt(&c.Sync.GammaEventsIntervalSeconds, v) },
	"SYNC_TAGS_INTERVAL_SECONDS":          func(c *Config, v string) { setInt(&c.Sync.TagsIntervalSeconds, v) },
	"SYNC_UNIVERSE_INTERVAL_SECONDS":      func(c *Config, v string) { setInt(&c.Sync.UniverseIntervalSeconds, v) },
	"SYNC_OI_INTERVAL_SECONDS":            func(c *Config, v string) { setInt(&c.Sync.OIIntervalSeconds, v) },
	"SYNC_TRADES_INTERVAL_SECONDS":        func(c *Config, v string) { setInt(&c.Sync.TradesIntervalSeconds, v) },
	"SYNC_BOOKS_INTERVAL_SECONDS":         func(c *Config, v string) { setInt(&c.Sync.BooksIntervalSeconds, v) },
	"SYNC_POSITIONS_INTERVAL_SECONDS":     func(c *Config, v string) { setInt(&c.Sync.PositionsIntervalSeconds, v) },
	"ORDERBOOK_SNAPSHOT_INTERVAL_SECONDS": func(c *Config, v string) { setInt(&c.Sync.OrderbookSnapshotIntervalSeconds, v) },

	"GAMMA_EVENTS_PAGE_LIMIT":       func(c *Config, v string) { setInt(&c.Sync.GammaEventsPageLimit, v) },
	"GAMMA_EVENTS_MAX_PAGES":        func(c *Config, v string) { setInt(&c.Sync.GammaEventsMaxPages, v) },
	"TRADES_PAGE_LIMIT":             func(c *Config, v string) { setInt(&c.Sync.TradesPageLimit, v) },
	"TRADES_MAX_PAGES":              func(c *Config, v string) { setInt(&c.Sync.TradesMaxPages, v) },
	"TRADE_SAFETY_WINDOW_SECONDS":   func(c *Config, v string) { setInt(&c.Sync.TradeSafetyWindowSeconds, v) },
	"TRADES_INITIAL_LOOKBACK_HOURS": func(c *Config, v string) { setInt(&c.Sync.TradesInitialLookbackHours, v) },

	"MAX_TRACKED_MARKETS": func(c *Config, v string) { setInt(&c.Universe.MaxTrackedMarkets, v) },
	"MIN_GAMMA_VOLUME":    func(c *Config, v string) { setFloat(&c.Universe.MinGammaVolume, v) },
	"MIN_GAMMA_LIQUIDITY": func(c *Config, v string) { setFloat(&c.Universe.MinGammaLiquidity, v) },
	"MIN_OPEN_INTEREST":   func(c *Config, v string) { setFloat(&c.Universe.MinOpenInterest, v) },

	"TAKER_ONLY":                          func(c *Config, v string) { setBool(&c.Trades.TakerOnly, v) },
	"LARGE_TRADE_USD_THRESHOLD":           func(c *Config, v string) { setFloat(&c.Trades.LargeTradeUSDThreshold, v) },
	"NEW_WALLET_WINDOW_DAYS":              func(c *Config, v string) { setInt(&c.Trades.NewWalletWindowDays, v) },
	"DORMANT_WINDOW_DAYS":                 func(c *Config, v string) { setInt(&c.Trades.DormantWindowDays, v) },
	"TRACK_WALLET_DAYS_AFTER_LARGE_TRADE": func(c *Config, v string) { setInt(&c.Trades.TrackWalletDaysAfterLargeTrade, v) },

	"ARB_EDGE_MIN":                func(c *Config, v string) { setFloat(&c.Arb.EdgeMin, v) },
	"ARB_MIN_EXECUTABLE_SHARES":   func(c *Config, v string) { setFloat(&c.Arb.MinExecutableShares, v) },
	"ARB_MAX_SHARES_TO_EVALUATE":  func(c *Config, v string) { setFloat(&c.Arb.MaxSharesToEvaluate, v) },
	"ARB_MAX_BOOK_AGE_SECONDS":    func(c *Config, v string) { setInt(&c.Arb.MaxBookAgeSeconds, v) },
	"ARB_MARKET_COOLDOWN_SECONDS": func(c *Config, v string) { setInt(&c.Arb.MarketCooldownSeconds, v) },
	"TAKER_FEE_BPS":               func(c *Config, v string) { setFloat(&c.Arb.TakerFeeBps, v) },

	"ALERTS_ENABLED":              func(c *Config, v string) { setBool(&c.Alerts.Enabled, v) },
	"ALERT_CHANNELS":              func(c *Config, v string) { setStringSlice(&c.Alerts.Channels, v) },
	"ALERT_DEDUP_WINDOW_SECONDS":  func(c *Config, v string) { setInt(&c.Alerts.DedupWindowSeconds, v) },
	"ALERT_MIN_SEVERITY":          func(c *Config, v string) { setInt(&c.Alerts.MinSeverity, v) },
	"ALERT_SLACK_WEBHOOK_URL":     func(c *Config, v string) { c.Alerts.SlackWebhookURL = v },
	"ALERT_TELEGRAM_BOT_TOKEN":    func(c *Config, v string) { c.Alerts.TelegramBotToken = v },
	"ALERT_TELEGRAM_CHAT_ID":      func(c *Config, v string) { c.Alerts.TelegramChatID = v },

	"CLOB_WS_ENABLED":       func(c *Config, v string) { setBool(&c.Websocket.Enabled, v) },
	"CLOB_WS_URL":           func(c *Config, v string) { c.Websocket.URL = v },
	"CLOB_WS_FALLBACK_URLS": func(c *Config, v string) { setStringSlice(&c.Websocket.FallbackURLs, v) },
	"CLOB_WS_MAX_ASSETS":    func(c *Config, v string) { setInt(&c.Websocket.MaxAssets, v) },
	"CLOB_WS_PING_SECONDS":  func(c *Config, v string) { setInt(&c.Websocket.PingSeconds, v) },

	"LOG_LEVEL": func(c *Config, v string) { c.LogLevel = v },
}

var overrideGetters = map[string]getterFunc{
	"HTTP_TIMEOUT_SECONDS":                func(c *Config) any { return c.HTTP.TimeoutSeconds },
	"HTTP_MAX_CONCURRENCY":                func(c *Config) any { return c.HTTP.MaxConcurrency },
	"SYNC_GAMMA_EVENTS_INTERVAL_SECONDS":  func(c *Config) any { return c.Sync.GammaEventsIntervalSeconds },
	"SYNC_TRADES_INTERVAL_SECONDS":        func(c *Config) any { return c.Sync.TradesIntervalSeconds },
	"ORDERBOOK_SNAPSHOT_INTERVAL_SECONDS": func(c *Config) any { return c.Sync.OrderbookSnapshotIntervalSeconds },
	"TRADES_PAGE_LIMIT":                   func(c *Config) any { return c.Sync.TradesPageLimit },
	"TRADES_MAX_PAGES":                    func(c *Config) any { return c.Sync.TradesMaxPages },
	"TRADE_SAFETY_WINDOW_SECONDS":         func(c *Config) any { return c.Sync.TradeSafetyWindowSeconds },
	"TRADES_INITIAL_LOOKBACK_HOURS":       func(c *Config) any { return c.Sync.TradesInitialLookbackHours },
	"MAX_TRACKED_MARKETS":                 func(c *Config) any { return c.Universe.MaxTrackedMarkets },
	"MIN_GAMMA_VOLUME":                    func(c *Config) any { return c.Universe.MinGammaVolume },
	"MIN_GAMMA_LIQUIDITY":                 func(c *Config) any { return c.Universe.MinGammaLiquidity },
	"MIN_OPEN_INTEREST":                   func(c *Config) any { return c.Universe.MinOpenInterest },
	"TAKER_ONLY":                          func(c *Config) any { return c.Trades.TakerOnly },
	"LARGE_TRADE_USD_THRESHOLD":           func(c *Config) any { return c.Trades.LargeTradeUSDThreshold },
	"NEW_WALLET_WINDOW_DAYS":              func(c *Config) any { return c.Trades.NewWalletWindowDays },
	"DORMANT_WINDOW_DAYS":                 func(c *Config) any { return c.Trades.DormantWindowDays },
	"ARB_EDGE_MIN":                        func(c *Config) any { return c.Arb.EdgeMin },
	"ARB_MIN_EXECUTABLE_SHARES":           func(c *Config) any { return c.Arb.MinExecutableShares },
	"ARB_MAX_SHARES_TO_EVALUATE":          func(c *Config) any { return c.Arb.MaxSharesToEvaluate },
	"ARB_MAX_BOOK_AGE_SECONDS":            func(c *Config) any { return c.Arb.MaxBookAgeSeconds },
	"ARB_MARKET_COOLDOWN_SECONDS":         func(c *Config) any { return c.Arb.MarketCooldownSeconds },
	"TAKER_FEE_BPS":                       func(c *Config) any { return c.Arb.TakerFeeBps },
	"ALERT_DEDUP_WINDOW_SECONDS":          func(c *Config) any { return c.Alerts.DedupWindowSeconds },
	"ALERT_MIN_SEVERITY":                  func(c *Config) any { return c.Alerts.MinSeverity },
}

// ---------------------------------------------------------------------------
// Typed value helpers. Each only mutates the target when the value parses.
// ---------------------------------------------------------------------------

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
		*dst = b
	}
}

func setStringSlice(dst *[]string, v string) {
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
