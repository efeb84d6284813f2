package bookcache

import (
	"testing"
	"time"

	"github.com/polymercado/engine/internal/domain"
)

func snap(token string, asOf time.Time) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		TokenID: token,
		Bids: []domain.PriceLevel{
			{Price: 0.50, Size: 100},
			{Price: 0.49, Size: 200},
		},
		Asks: []domain.PriceLevel{
			{Price: 0.52, Size: 150},
			{Price: 0.53, Size: 300},
		},
		AsOf: asOf,
		Meta: domain.BookMeta{ConditionID: "0xC", TickSize: 0.01},
	}
}

func TestApplySnapshotAndGet(t *testing.T) {
	c := New()
	now := time.Now().UTC()

	if err := c.ApplySnapshot(snap("tok", now)); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get("tok")
	if !ok {
		t.Fatal("expected cached book")
	}
	if got.BestBid() != 0.50 || got.BestAsk() != 0.52 {
		t.Errorf("best bid/ask = %v/%v", got.BestBid(), got.BestAsk())
	}

	age, ok := c.Age("tok", now.Add(7*time.Second))
	if !ok || age != 7 {
		t.Errorf("age = %v (ok=%v), want 7", age, ok)
	}
}

func TestApplySnapshotRejectsStaleAndInvalid(t *testing.T) {
	c := New()
	now := time.Now().UTC()

	if err := c.ApplySnapshot(snap("tok", now)); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplySnapshot(snap("tok", now.Add(-time.Second))); err != domain.ErrStaleSnapshot {
		t.Errorf("older snapshot: err = %v, want ErrStaleSnapshot", err)
	}

	bad := snap("tok2", now)
	bad.Asks = []domain.PriceLevel{{Price: 0.52, Size: 10}, {Price: 0.52, Size: 20}}
	if err := c.ApplySnapshot(bad); err != domain.ErrInvalidLevels {
		t.Errorf("non-monotonic asks: err = %v, want ErrInvalidLevels", err)
	}
	if _, ok := c.Get("tok2"); ok {
		t.Error("invalid snapshot must leave the cache unchanged")
	}
}

func TestApplyPriceChange(t *testing.T) {
	c := New()
	now := time.Now().UTC()
	if err := c.ApplySnapshot(snap("tok", now)); err != nil {
		t.Fatal(err)
	}

	later := now.Add(time.Second)
	changes := []domain.PriceChange{
		{TokenID: "tok", Side: "SELL", Price: 0.51, Size: 50, AsOf: later},  // new best ask
		{TokenID: "tok", Side: "SELL", Price: 0.53, Size: 0, AsOf: later},   // remove level
		{TokenID: "tok", Side: "BUY", Price: 0.50, Size: 400, AsOf: later},  // resize best bid
	}
	if err := c.ApplyPriceChange("tok", changes, later); err != nil {
		t.Fatal(err)
	}

	got, _ := c.Get("tok")
	if got.BestAsk() != 0.51 {
		t.Errorf("best ask = %v, want 0.51", got.BestAsk())
	}
	if len(got.Asks) != 2 {
		t.Errorf("asks = %v, want two levels", got.Asks)
	}
	for i := 1; i < len(got.Asks); i++ {
		if got.Asks[i].Price <= got.Asks[i-1].Price {
			t.Errorf("asks not strictly ascending: %v", got.Asks)
		}
	}
	if got.Bids[0].Size != 400 {
		t.Errorf("best bid size = %v, want 400", got.Bids[0].Size)
	}
	if !got.AsOf.Equal(later) {
		t.Errorf("as_of = %v, want %v", got.AsOf, later)
	}
}

func TestApplyPriceChangeStaleDropped(t *testing.T) {
	c := New()
	now := time.Now().UTC()
	if err := c.ApplySnapshot(snap("tok", now)); err != nil {
		t.Fatal(err)
	}

	earlier := now.Add(-time.Second)
	err := c.ApplyPriceChange("tok",
		[]domain.PriceChange{{TokenID: "tok", Side: "SELL", Price: 0.10, Size: 5, AsOf: earlier}},
		earlier,
	)
	if err != domain.ErrStaleSnapshot {
		t.Errorf("err = %v, want ErrStaleSnapshot", err)
	}
	got, _ := c.Get("tok")
	if got.BestAsk() != 0.52 {
		t.Errorf("stale delta must not mutate the book, best ask = %v", got.BestAsk())
	}
}

func TestApplyPriceChangeUnknownToken(t *testing.T) {
	c := New()
	err := c.ApplyPriceChange("missing",
		[]domain.PriceChange{{TokenID: "missing", Side: "BUY", Price: 0.5, Size: 1}},
		time.Now().UTC(),
	)
	if err != domain.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDropAndTokenIDs(t *testing.T) {
	c := New()
	now := time.Now().UTC()
	_ = c.ApplySnapshot(snap("a", now))
	_ = c.ApplySnapshot(snap("b", now))

	if got := len(c.TokenIDs()); got != 2 {
		t.Fatalf("token count = %d, want 2", got)
	}
	c.Drop([]string{"a"})
	if _, ok := c.Get("a"); ok {
		t.Error("dropped token should be gone")
	}
	if got := len(c.TokenIDs()); got != 1 {
		t.Errorf("token count = %d, want 1", got)
	}
}
