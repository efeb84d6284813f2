// Package polymarket contains the REST and websocket clients for the three
// public Polymarket upstreams (Gamma, CLOB, data API) and the normalizers
// that absorb their schema drift.
package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polymercado/engine/internal/domain"
)

// --------------------------------------------------------------------------
// Flexible JSON scalars. Upstream payloads interchange numbers and strings,
// bools and "true"/"false", arrays and JSON-encoded array strings.
// --------------------------------------------------------------------------

// FlexBool unmarshals from a JSON bool or a "true"/"false"/"1" string.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = FlexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// FlexFloat unmarshals from a JSON number or a numeric string. Null and
// unparseable values leave the pointer semantics to the caller (zero value,
// Valid=false).
type FlexFloat struct {
	Value float64
	Valid bool
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value, f.Valid = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		f.Value, f.Valid = n, true
	}
	return nil
}

// Ptr returns the value as a *float64, nil when absent.
func (f FlexFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// FlexInt unmarshals from a JSON number or a numeric string.
type FlexInt struct {
	Value int64
	Valid bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value, f.Valid = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		f.Value, f.Valid = n, true
	}
	return nil
}

// FlexNumber preserves the raw scalar token, quoted or not, so values can be
// re-rendered exactly (dedupe hashing) or parsed later.
type FlexNumber string

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexNumber(s)
		return nil
	}
	*f = FlexNumber(string(data))
	return nil
}

// String returns the raw token.
func (f FlexNumber) String() string { return string(f) }

// FlexStrings unmarshals from a JSON array or a JSON-encoded array string
// (e.g. "[\"Yes\",\"No\"]"). A bare string becomes a single-element slice.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = anySliceToStrings(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var inner []any
	if err := json.Unmarshal([]byte(s), &inner); err == nil {
		*f = anySliceToStrings(inner)
		return nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		body := strings.TrimSpace(s[1 : len(s)-1])
		if body == "" {
			return nil
		}
		parts := strings.Split(body, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.Trim(strings.TrimSpace(p), `"'`)
			if p != "" {
				out = append(out, p)
			}
		}
		*f = out
		return nil
	}
	*f = []string{s}
	return nil
}

func anySliceToStrings(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			b, _ := json.Marshal(v)
			out = append(out, string(b))
		}
	}
	return out
}

// FlexTime unmarshals upstream timestamps: RFC3339 strings (Gamma, CLOB
// REST), epoch strings or numbers in milliseconds (websocket) or seconds
// (data API).
type FlexTime struct {
	Time  time.Time
	Valid bool
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Time, f.Valid = epochToTime(n), true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.Time, f.Valid = ParseTimestamp(s)
	return nil
}

// Ptr returns the parsed time as a pointer, nil when absent.
func (f FlexTime) Ptr() *time.Time {
	if !f.Valid {
		return nil
	}
	t := f.Time
	return &t
}

// ParseTimestamp normalizes an upstream timestamp string to a UTC instant.
// Digit strings are treated as epoch milliseconds when large enough to be
// one, epoch seconds otherwise; anything else must be RFC3339.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochToTime(n), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// epochToTime interprets n as milliseconds when it is too large to be a
// plausible epoch-seconds value.
func epochToTime(n int64) time.Time {
	const msCutoff = int64(1e12)
	if n >= msCutoff {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// CanonicalWallet normalizes an address to its EIP-55 checksum form so the
// same wallet observed with different casing maps to one identity. Inputs
// that are not hex addresses are returned lowercased.
func CanonicalWallet(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return strings.ToLower(addr)
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APITag is one entry from GET /tags.
type APITag struct {
	ID    FlexInt `json:"id"`
	Label string  `json:"label"`
	Slug  string  `json:"slug"`
}

// APISport is one entry from GET /sports; Tags is a comma-joined id list.
type APISport struct {
	Label string `json:"label"`
	Tags  string `json:"tags"`
}

// APIEventTag is the tag shape embedded in events.
type APIEventTag struct {
	ID FlexInt `json:"id"`
}

// APIEvent is one entry from GET /events. An event groups related markets.
type APIEvent struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Slug      string        `json:"slug"`
	Active    *FlexBool     `json:"active"`
	Closed    *FlexBool     `json:"closed"`
	NegRisk   *FlexBool     `json:"negRisk"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	CreatedAt string        `json:"createdAt"`
	UpdatedAt string        `json:"updatedAt"`
	Tags      []APIEventTag `json:"tags"`
	Markets   []APIMarket   `json:"markets"`
}

// APIMarket is the market shape embedded in events (and returned by
// /markets). Outcomes and token IDs may arrive as arrays or JSON-encoded
// strings; volume and liquidity as numbers or strings, with the numeric
// variants preferred.
type APIMarket struct {
	ID            string      `json:"id"`
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	Active        *FlexBool   `json:"active"`
	Closed        *FlexBool   `json:"closed"`
	NegRisk       *FlexBool   `json:"negRisk"`
	NegRiskAlt    *FlexBool   `json:"neg_risk"`
	Outcomes      FlexStrings `json:"outcomes"`
	OutcomePrices FlexStrings `json:"outcomePrices"`
	ClobTokenIDs  FlexStrings `json:"clobTokenIds"`
	Volume        FlexFloat   `json:"volume"`
	VolumeNum     FlexFloat   `json:"volumeNum"`
	Liquidity     FlexFloat   `json:"liquidity"`
	LiquidityNum  FlexFloat   `json:"liquidityNum"`
	StartDate     string      `json:"startDate"`
	EndDate       string      `json:"endDate"`
	CreatedAt     string      `json:"createdAt"`
	UpdatedAt     string      `json:"updatedAt"`
}

// ParsedMarket is the normalized view of one gamma market plus the metric
// values that ride along with it.
type ParsedMarket struct {
	Market         domain.Market
	GammaVolume    *float64
	GammaLiquidity *float64
}

// ParseMarket normalizes an event-embedded market into the canonical record.
// Market-level fields win over event-level fields; the negative-risk flag is
// accepted under either of its upstream names.
func ParseMarket(event *APIEvent, market *APIMarket, now time.Time) ParsedMarket {
	m := domain.Market{
		ConditionID: market.ConditionID,
		MarketID:    market.ID,
		EventID:     event.ID,
		Slug:        market.Slug,
		Question:    market.Question,
		Title:       firstNonEmpty(market.Question, event.Title),
		Outcomes:    market.Outcomes,
		TokenIDs:    market.ClobTokenIDs,
		LastSeenAt:  now,
	}

	negRisk := market.NegRisk
	if negRisk == nil {
		negRisk = market.NegRiskAlt
	}
	if negRisk == nil {
		negRisk = event.NegRisk
	}
	if negRisk != nil {
		m.NegRisk = bool(*negRisk)
	}

	active := market.Active
	if active == nil {
		active = event.Active
	}
	if active != nil {
		v := bool(*active)
		m.Active = &v
	}
	closed := market.Closed
	if closed == nil {
		closed = event.Closed
	}
	if closed != nil {
		v := bool(*closed)
		m.Closed = &v
	}

	for _, tag := range event.Tags {
		if tag.ID.Valid {
			m.TagIDs = append(m.TagIDs, tag.ID.Value)
		}
	}

	m.StartTime = parseFirstTime(market.StartDate, event.StartDate)
	m.EndTime = parseFirstTime(market.EndDate, event.EndDate)
	m.CreatedAt = parseFirstTime(market.CreatedAt, event.CreatedAt)
	m.UpdatedAt = parseFirstTime(market.UpdatedAt, event.UpdatedAt)

	parsed := ParsedMarket{Market: m}
	// Prefer the numeric variants when both are present.
	if market.VolumeNum.Valid {
		parsed.GammaVolume = market.VolumeNum.Ptr()
	} else {
		parsed.GammaVolume = market.Volume.Ptr()
	}
	if market.LiquidityNum.Valid {
		parsed.GammaLiquidity = market.LiquidityNum.Ptr()
	} else {
		parsed.GammaLiquidity = market.Liquidity.Ptr()
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseFirstTime(values ...string) *time.Time {
	for _, v := range values {
		if t, ok := ParseTimestamp(v); ok {
			return &t
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APITrade is one taker-trade print from GET /trades.
type APITrade struct {
	ProxyWallet     string     `json:"proxyWallet"`
	User            string     `json:"user"`
	ConditionID     string     `json:"conditionId"`
	Asset           string     `json:"asset"`
	Side            string     `json:"side"`
	Size            FlexFloat  `json:"size"`
	Price           FlexFloat  `json:"price"`
	Timestamp       FlexNumber `json:"timestamp"`
	TransactionHash string     `json:"transactionHash"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	EventSlug       string     `json:"eventSlug"`
	Outcome         string     `json:"outcome"`
}

// Wallet returns the canonical wallet for the trade: the proxy wallet when
// present, else the user address.
func (t *APITrade) Wallet() string {
	return CanonicalWallet(firstNonEmpty(t.ProxyWallet, t.User))
}

// TradeTS returns the parsed trade timestamp.
func (t *APITrade) TradeTS() (time.Time, bool) {
	return ParseTimestamp(t.Timestamp.String())
}

// DedupeKey returns the trade's natural key from the raw upstream fields.
func (t *APITrade) DedupeKey() string {
	return domain.TradeDedupeKey(
		t.TransactionHash,
		t.Wallet(),
		t.ConditionID,
		t.Asset,
		t.Side,
		t.Timestamp.String(),
		flexString(t.Size),
		flexString(t.Price),
	)
}

func flexString(f FlexFloat) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// APIPosition is one row from GET /positions.
type APIPosition struct {
	ConditionID string    `json:"conditionId"`
	Asset       string    `json:"asset"`
	Size        FlexFloat `json:"size"`
	AvgPrice    FlexFloat `json:"avgPrice"`
	Outcome     string    `json:"outcome"`
	Redeemable  *FlexBool `json:"redeemable"`
}

// APIOpenInterest is one row from GET /oi.
type APIOpenInterest struct {
	Market string    `json:"market"`
	Value  FlexFloat `json:"value"`
}

// --------------------------------------------------------------------------
// CLOB DTOs (REST books and websocket market channel)
// --------------------------------------------------------------------------

// APILevel is a single price level with string-encoded decimals.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is a full orderbook as returned by POST /books and the websocket
// "book" message. Websocket payloads may label sides buys/sells instead of
// bids/asks; both are accepted.
type APIBook struct {
	Market       string     `json:"market"`
	AssetID      string     `json:"asset_id"`
	Bids         []APILevel `json:"bids"`
	Asks         []APILevel `json:"asks"`
	Buys         []APILevel `json:"buys"`
	Sells        []APILevel `json:"sells"`
	TickSize     FlexFloat  `json:"tick_size"`
	MinOrderSize FlexFloat  `json:"min_order_size"`
	NegRisk      *FlexBool  `json:"neg_risk"`
	Timestamp    FlexTime   `json:"timestamp"`
	Hash         string     `json:"hash"`
	EventType    string     `json:"event_type"`
}

// ToSnapshot normalizes the book into a domain snapshot: string decimals
// parsed, zero/negative entries dropped, bids sorted best-first descending
// and asks ascending. Records that fail to parse are skipped.
func (b *APIBook) ToSnapshot(now time.Time) domain.OrderbookSnapshot {
	bids := b.Bids
	if len(bids) == 0 {
		bids = b.Buys
	}
	asks := b.Asks
	if len(asks) == 0 {
		asks = b.Sells
	}

	snap := domain.OrderbookSnapshot{
		TokenID: b.AssetID,
		Bids:    parseLevels(bids, true),
		Asks:    parseLevels(asks, false),
		Meta: domain.BookMeta{
			ConditionID:  b.Market,
			TickSize:     b.TickSize.Value,
			MinOrderSize: b.MinOrderSize.Value,
			Hash:         b.Hash,
		},
	}
	if b.NegRisk != nil {
		snap.Meta.NegRisk = bool(*b.NegRisk)
	}
	if b.Timestamp.Valid {
		snap.AsOf = b.Timestamp.Time
	} else {
		snap.AsOf = now
	}
	return snap
}

// parseLevels converts raw string levels, drops non-positive entries,
// aggregates duplicate prices, and sorts (descending for bids, ascending for
// asks).
func parseLevels(raw []APILevel, descending bool) []domain.PriceLevel {
	agg := make(map[float64]float64, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil || price <= 0 || size <= 0 {
			continue
		}
		agg[price] += size
	}
	out := make([]domain.PriceLevel, 0, len(agg))
	for price, size := range agg {
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// WSEnvelope identifies the type of an incoming market-channel message.
type WSEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

// MessageType returns whichever type label is present.
func (e WSEnvelope) MessageType() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// WSPriceChangeEntry is a single level change inside a price_change message.
type WSPriceChangeEntry struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

// WSPriceChange is a price_change message. Older payloads carry a single
// top-level change; newer ones batch entries under changes.
type WSPriceChange struct {
	AssetID   string               `json:"asset_id"`
	Market    string               `json:"market"`
	Changes   []WSPriceChangeEntry `json:"changes"`
	Price     string               `json:"price"`
	Size      string               `json:"size"`
	Side      string               `json:"side"`
	Timestamp FlexTime             `json:"timestamp"`
}

// ToChanges normalizes the message into domain price changes. Entries with
// unparseable numbers are dropped.
func (p *WSPriceChange) ToChanges(now time.Time) []domain.PriceChange {
	asOf := now
	if p.Timestamp.Valid {
		asOf = p.Timestamp.Time
	}
	entries := p.Changes
	if len(entries) == 0 && p.Price != "" {
		entries = []WSPriceChangeEntry{{Price: p.Price, Size: p.Size, Side: p.Side}}
	}
	out := make([]domain.PriceChange, 0, len(entries))
	for _, e := range entries {
		price, err1 := strconv.ParseFloat(e.Price, 64)
		size, err2 := strconv.ParseFloat(e.Size, 64)
		if err1 != nil || err2 != nil || price <= 0 || size < 0 {
			continue
		}
		out = append(out, domain.PriceChange{
			TokenID: p.AssetID,
			Side:    e.Side,
			Price:   price,
			Size:    size,
			AsOf:    asOf,
		})
	}
	return out
}

// WSTickSizeChange is a tick_size_change message.
type WSTickSizeChange struct {
	AssetID     string    `json:"asset_id"`
	NewTickSize FlexFloat `json:"new_tick_size"`
	OldTickSize FlexFloat `json:"old_tick_size"`
	Timestamp   FlexTime  `json:"timestamp"`
}

// WSCommand is the subscription command sent on connect.
type WSCommand struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}
