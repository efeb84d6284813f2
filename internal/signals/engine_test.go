package signals

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/universe"
)

func binaryMarket(conditionID string) domain.Market {
	return domain.Market{
		ConditionID: conditionID,
		Outcomes:    []string{"Yes", "No"},
		TokenIDs:    []string{conditionID + "-yes", conditionID + "-no"},
		LastSeenAt:  time.Now().UTC(),
	}
}

func seedBooks(t *testing.T, cache *bookcache.Cache, conditionID string, asksYes, asksNo []domain.PriceLevel, asOf time.Time) {
	t.Helper()
	for token, asks := range map[string][]domain.PriceLevel{
		conditionID + "-yes": asksYes,
		conditionID + "-no":  asksNo,
	} {
		err := cache.ApplySnapshot(domain.OrderbookSnapshot{
			TokenID: token,
			Asks:    asks,
			Bids:    []domain.PriceLevel{{Price: 0.01, Size: 1}},
			AsOf:    asOf,
			Meta:    domain.BookMeta{ConditionID: conditionID},
		})
		if err != nil {
			t.Fatalf("seed book %s: %v", token, err)
		}
	}
}

func newTestArbEngine(t *testing.T, tracker *universe.Tracker, cache *bookcache.Cache, store *fakeSignalStore) *ArbEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewArbEngine(testRuntime(t), tracker, cache, store, nil, logger)
}

func TestArbEngineEmits(t *testing.T) {
	tracker := universe.New()
	tracker.Set([]domain.Market{binaryMarket("0xM1")})

	cache := bookcache.New()
	now := time.Now().UTC()
	seedBooks(t, cache, "0xM1",
		levels(0.48, 100, 0.50, 500),
		levels(0.50, 200, 0.52, 400),
		now,
	)

	store := newFakeSignalStore()
	engine := newTestArbEngine(t, tracker, cache, store)

	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}
	events := store.byType(domain.SignalArbBuyBoth)
	if len(events) != 1 {
		t.Fatalf("expected one ARB_BUY_BOTH, got %d", len(events))
	}
	if events[0].ConditionID != "0xM1" {
		t.Errorf("condition = %s", events[0].ConditionID)
	}

	// Same books on the next run: suppressed by the market cooldown.
	emitted, err = engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 0 {
		t.Errorf("cooldown violated: emitted %d", emitted)
	}
}

func TestArbEngineStaleBookSuppressed(t *testing.T) {
	tracker := universe.New()
	tracker.Set([]domain.Market{binaryMarket("0xM2")})

	cache := bookcache.New()
	stale := time.Now().UTC().Add(-30 * time.Second)
	seedBooks(t, cache, "0xM2",
		levels(0.40, 1000),
		levels(0.40, 1000),
		stale,
	)

	store := newFakeSignalStore()
	engine := newTestArbEngine(t, tracker, cache, store)

	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 0 {
		t.Errorf("stale books must not emit, got %d", emitted)
	}
}

func TestArbEngineFastScreen(t *testing.T) {
	tracker := universe.New()
	tracker.Set([]domain.Market{binaryMarket("0xM3")})

	cache := bookcache.New()
	seedBooks(t, cache, "0xM3",
		levels(0.60, 1000),
		levels(0.45, 1000),
		time.Now().UTC(),
	)

	store := newFakeSignalStore()
	engine := newTestArbEngine(t, tracker, cache, store)

	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 0 {
		t.Errorf("top-of-book sum 1.05 must not emit, got %d", emitted)
	}
}
