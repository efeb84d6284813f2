package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// TradeSide is the taker direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Trade is a taker-trade print from the data API. Rows are append-only and
// uniquely identified by TradePK.
type Trade struct {
	TradePK         string
	TransactionHash string
	Wallet          string
	ConditionID     string
	TokenID         string
	Side            TradeSide
	Price           float64
	Size            float64
	NotionalUSD     float64
	TradeTS         time.Time
	Raw             json.RawMessage
}

// TradeDedupeKey builds the natural key for a trade print: the transaction
// hash when present, else a composite hash of the identifying fields. The
// composite uses the raw upstream timestamp string so re-fetched pages hash
// identically.
func TradeDedupeKey(txHash, wallet, conditionID, tokenID, side, rawTS, size, price string) string {
	if txHash != "" {
		return "tx:" + txHash
	}
	raw := strings.Join([]string{wallet, conditionID, tokenID, side, rawTS, size, price}, "|")
	sum := sha256.Sum256([]byte(raw))
	return "hash:" + hex.EncodeToString(sum[:])
}

// Wallet is the per-address trading state keyed by the canonical address
// (proxy wallet preferred). First/last seen are platform-relative.
type Wallet struct {
	Address             string
	FirstSeenAt         time.Time
	LastSeenAt          time.Time
	FirstTradeTS        *time.Time
	TrackedUntil        *time.Time
	LifetimeNotionalUSD float64
	Last7dNotionalUSD   float64
}

// WalletExposure is a wallet's aggregated open position in one market.
type WalletExposure struct {
	Wallet        string
	ConditionID   string
	NetShares     float64
	AvgEntryPrice *float64
	LastUpdatedAt time.Time
}
