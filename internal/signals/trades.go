package signals

import (
	"time"

	"github.com/polymercado/engine/internal/domain"
)

// IsNewWallet reports whether the trade falls inside the wallet's new-wallet
// window: trade_ts at most windowDays after the wallet was first observed on
// the platform.
func IsNewWallet(w domain.Wallet, tradeTS time.Time, windowDays int) bool {
	window := time.Duration(windowDays) * 24 * time.Hour
	return !tradeTS.After(w.FirstSeenAt.Add(window))
}

// IsDormant reports whether the wallet had no observed activity in the
// windowDays preceding the trade.
func IsDormant(w domain.Wallet, tradeTS time.Time, windowDays int) bool {
	window := time.Duration(windowDays) * 24 * time.Hour
	return !tradeTS.Before(w.LastSeenAt.Add(window))
}

// TradeSeverity maps a trade's notional to its severity band, adding one
// notch for a new wallet and one for a thin market, clamped to [1, 5].
func TradeSeverity(notionalUSD float64, isNew, lowLiquidity bool) int {
	var severity int
	switch {
	case notionalUSD >= 1_000_000:
		severity = 5
	case notionalUSD >= 250_000:
		severity = 4
	case notionalUSD >= 50_000:
		severity = 3
	default:
		severity = 2
	}
	if isNew {
		severity++
	}
	if lowLiquidity {
		severity++
	}
	if severity > 5 {
		severity = 5
	}
	return severity
}

// TradePayload is the structured evidence object attached to trade signals.
type TradePayload struct {
	Wallet          string         `json:"wallet,omitempty"`
	TradeTS         time.Time      `json:"trade_ts"`
	ConditionID     string         `json:"condition_id"`
	TokenID         string         `json:"token_id"`
	Side            string         `json:"side"`
	SizeShares      float64        `json:"size_shares"`
	Price           float64        `json:"price"`
	NotionalUSD     float64        `json:"notional_usd"`
	MarketSlug      string         `json:"market_slug,omitempty"`
	MarketTitle     string         `json:"market_title,omitempty"`
	EventSlug       string         `json:"event_slug,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	TxHash          string         `json:"tx_hash,omitempty"`
	WalletFirstSeen *time.Time     `json:"wallet_first_seen_at,omitempty"`
	WalletAgeDays   *int           `json:"wallet_age_days,omitempty"`
	MarketLiquidity *float64       `json:"market_liquidity,omitempty"`
	MarketVolume    *float64       `json:"market_volume,omitempty"`
	MarketOI        *float64       `json:"market_open_interest,omitempty"`
	ConfigSnapshot  map[string]any `json:"config_snapshot"`
}
