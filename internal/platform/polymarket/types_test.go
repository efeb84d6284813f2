package polymarket

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexStringsVariants(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["Yes","No"]`, []string{"Yes", "No"}},
		{"encoded array string", `"[\"Yes\",\"No\"]"`, []string{"Yes", "No"}},
		{"single-quoted fallback", `"['123','456']"`, []string{"123", "456"}},
		{"bare string", `"Yes"`, []string{"Yes"}},
		{"null", `null`, nil},
		{"empty string", `""`, nil},
	}
	for _, tc := range cases {
		var got FlexStrings
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
				break
			}
		}
	}
}

func TestFlexFloatVariants(t *testing.T) {
	var f FlexFloat
	if err := json.Unmarshal([]byte(`12345.6`), &f); err != nil || !f.Valid || f.Value != 12345.6 {
		t.Errorf("number: %+v err=%v", f, err)
	}
	f = FlexFloat{}
	if err := json.Unmarshal([]byte(`"12345.6"`), &f); err != nil || !f.Valid || f.Value != 12345.6 {
		t.Errorf("string: %+v err=%v", f, err)
	}
	f = FlexFloat{}
	if err := json.Unmarshal([]byte(`null`), &f); err != nil || f.Valid {
		t.Errorf("null: %+v err=%v", f, err)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	rfc, ok := ParseTimestamp("2025-06-01T12:00:00Z")
	if !ok || !rfc.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("rfc3339: %v ok=%v", rfc, ok)
	}

	ms, ok := ParseTimestamp("1748779200000")
	if !ok || ms.Year() != 2025 {
		t.Errorf("epoch ms: %v ok=%v", ms, ok)
	}

	secs, ok := ParseTimestamp("1748779200")
	if !ok || !secs.Equal(ms) {
		t.Errorf("epoch seconds: %v vs ms %v", secs, ms)
	}

	if _, ok := ParseTimestamp("not-a-time"); ok {
		t.Error("garbage should not parse")
	}
}

func TestParseMarketNormalizes(t *testing.T) {
	raw := `{
		"id": "e1",
		"title": "Event title",
		"negRisk": "true",
		"tags": [{"id": 7}, {"id": "11"}],
		"markets": [{
			"id": "m1",
			"conditionId": "0xC",
			"question": "Will it happen?",
			"slug": "will-it-happen",
			"outcomes": "[\"Yes\",\"No\"]",
			"clobTokenIds": "[\"111\",\"222\"]",
			"volume": "123456.7",
			"volumeNum": 123999,
			"liquidity": "5000.5",
			"active": "true",
			"closed": false,
			"endDate": "2025-12-31T00:00:00Z"
		}]
	}`
	var event APIEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	parsed := ParseMarket(&event, &event.Markets[0], now)
	m := parsed.Market

	if m.ConditionID != "0xC" || m.MarketID != "m1" || m.EventID != "e1" {
		t.Errorf("ids: %+v", m)
	}
	// neg_risk was only present at the event level, as a string.
	if !m.NegRisk {
		t.Error("neg_risk should inherit from the event")
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
		t.Errorf("outcomes: %v", m.Outcomes)
	}
	if len(m.TokenIDs) != 2 || m.TokenIDs[1] != "222" {
		t.Errorf("token ids: %v", m.TokenIDs)
	}
	if len(m.TagIDs) != 2 || m.TagIDs[0] != 7 || m.TagIDs[1] != 11 {
		t.Errorf("tag ids: %v", m.TagIDs)
	}
	// The numeric volume variant wins over the string one.
	if parsed.GammaVolume == nil || *parsed.GammaVolume != 123999 {
		t.Errorf("volume: %v", parsed.GammaVolume)
	}
	if parsed.GammaLiquidity == nil || *parsed.GammaLiquidity != 5000.5 {
		t.Errorf("liquidity: %v", parsed.GammaLiquidity)
	}
	if m.EndTime == nil || m.EndTime.Year() != 2025 {
		t.Errorf("end time: %v", m.EndTime)
	}
	if m.Active == nil || !*m.Active || m.Closed == nil || *m.Closed {
		t.Errorf("lifecycle flags: active=%v closed=%v", m.Active, m.Closed)
	}
}

func TestBookToSnapshotSideAliases(t *testing.T) {
	now := time.Now().UTC()

	// REST shape: bids/asks.
	var rest APIBook
	if err := json.Unmarshal([]byte(`{
		"market": "0xC", "asset_id": "111",
		"bids": [{"price":"0.49","size":"10"},{"price":"0.50","size":"5"}],
		"asks": [{"price":"0.53","size":"7"},{"price":"0.52","size":"3"}],
		"tick_size": "0.01", "neg_risk": true,
		"timestamp": "2025-06-01T12:00:00Z"
	}`), &rest); err != nil {
		t.Fatal(err)
	}
	snap := rest.ToSnapshot(now)
	if snap.BestBid() != 0.50 || snap.BestAsk() != 0.52 {
		t.Errorf("rest best bid/ask = %v/%v", snap.BestBid(), snap.BestAsk())
	}
	if !snap.Meta.NegRisk || snap.Meta.TickSize != 0.01 {
		t.Errorf("meta: %+v", snap.Meta)
	}
	if snap.AsOf.IsZero() || snap.AsOf.Equal(now) {
		t.Errorf("as_of should come from the payload, got %v", snap.AsOf)
	}

	// Websocket shape: buys/sells plus millisecond epoch.
	var ws APIBook
	if err := json.Unmarshal([]byte(`{
		"market": "0xC", "asset_id": "111", "event_type": "book",
		"buys": [{"price":"0.40","size":"10"}],
		"sells": [{"price":"0.60","size":"10"}],
		"timestamp": "1748779200000"
	}`), &ws); err != nil {
		t.Fatal(err)
	}
	wsSnap := ws.ToSnapshot(now)
	if wsSnap.BestBid() != 0.40 || wsSnap.BestAsk() != 0.60 {
		t.Errorf("ws best bid/ask = %v/%v", wsSnap.BestBid(), wsSnap.BestAsk())
	}
	if wsSnap.AsOf.Year() != 2025 {
		t.Errorf("ws as_of = %v", wsSnap.AsOf)
	}

	// Snapshot timestamps from both transports describe the same instant
	// representation (UTC).
	if wsSnap.AsOf.Location() != time.UTC || snap.AsOf.Location() != time.UTC {
		t.Error("timestamps must normalize to UTC")
	}
}

func TestBookToSnapshotDropsBadLevels(t *testing.T) {
	var book APIBook
	if err := json.Unmarshal([]byte(`{
		"market": "0xC", "asset_id": "111",
		"asks": [{"price":"0.52","size":"0"},{"price":"-1","size":"5"},
			{"price":"0.53","size":"x"},{"price":"0.54","size":"5"}]
	}`), &book); err != nil {
		t.Fatal(err)
	}
	snap := book.ToSnapshot(time.Now().UTC())
	if len(snap.Asks) != 1 || snap.Asks[0].Price != 0.54 {
		t.Errorf("asks = %v, want only the valid level", snap.Asks)
	}
}

func TestWSPriceChangeShapes(t *testing.T) {
	now := time.Now().UTC()

	// Batched changes.
	var batched WSPriceChange
	if err := json.Unmarshal([]byte(`{
		"asset_id": "111", "event_type": "price_change",
		"changes": [
			{"price": "0.51", "size": "30", "side": "SELL"},
			{"price": "0.50", "size": "0", "side": "BUY"}
		],
		"timestamp": "1748779200000"
	}`), &batched); err != nil {
		t.Fatal(err)
	}
	changes := batched.ToChanges(now)
	if len(changes) != 2 {
		t.Fatalf("changes = %v", changes)
	}
	if changes[0].Price != 0.51 || changes[0].Side != "SELL" {
		t.Errorf("first change: %+v", changes[0])
	}
	if changes[1].Size != 0 {
		t.Errorf("zero-size removal lost: %+v", changes[1])
	}

	// Single top-level change.
	var single WSPriceChange
	if err := json.Unmarshal([]byte(`{
		"asset_id": "111", "event_type": "price_change",
		"price": "0.44", "size": "12", "side": "BUY"
	}`), &single); err != nil {
		t.Fatal(err)
	}
	got := single.ToChanges(now)
	if len(got) != 1 || got[0].Price != 0.44 || !got[0].AsOf.Equal(now) {
		t.Errorf("single change: %+v", got)
	}
}

func TestTradeDedupeKey(t *testing.T) {
	withHash := APITrade{TransactionHash: "0xT", ProxyWallet: "0xabc"}
	if got := withHash.DedupeKey(); got != "tx:0xT" {
		t.Errorf("key = %s, want tx:0xT", got)
	}

	raw := `{
		"proxyWallet": "0x52908400098527886E0F7030069857D2E4169EE7",
		"conditionId": "0xC", "asset": "111", "side": "BUY",
		"size": 100, "price": 0.5, "timestamp": 1748779200
	}`
	var a, b APITrade
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatal(err)
	}
	if a.DedupeKey() != b.DedupeKey() {
		t.Error("identical trades must hash identically")
	}
	if a.DedupeKey()[:5] != "hash:" {
		t.Errorf("composite key prefix: %s", a.DedupeKey())
	}
}

func TestCanonicalWallet(t *testing.T) {
	lower := CanonicalWallet("0x52908400098527886e0f7030069857d2e4169ee7")
	upper := CanonicalWallet("0x52908400098527886E0F7030069857D2E4169EE7")
	if lower != upper {
		t.Errorf("case variants should canonicalize equal: %s vs %s", lower, upper)
	}
	if CanonicalWallet("not-an-address") != "not-an-address" {
		t.Error("non-hex input should pass through lowercased")
	}
}
