package domain

import "time"

// PriceLevel is a single aggregated price+size entry in an orderbook side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookMeta carries per-token orderbook metadata from the CLOB.
type BookMeta struct {
	ConditionID  string
	TickSize     float64
	MinOrderSize float64
	NegRisk      bool
	Hash         string
}

// OrderbookSnapshot is a full aggregated book for one token. Bids are ordered
// best first (price descending), asks best first (price ascending); within a
// side prices are strictly monotonic and sizes positive.
type OrderbookSnapshot struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
	AsOf    time.Time
	Meta    BookMeta
}

// BestBid returns the highest bid price, or 0 when the side is empty.
func (s OrderbookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the side is empty.
func (s OrderbookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// PriceChange is an incremental level update from the market channel. Size 0
// removes the level.
type PriceChange struct {
	TokenID string
	Side    string // "BUY"/"bids" or "SELL"/"asks"
	Price   float64
	Size    float64
	AsOf    time.Time
}
