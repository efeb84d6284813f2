package signals

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeTradeStore struct {
	trades []domain.Trade
}

func (f *fakeTradeStore) Insert(ctx context.Context, t domain.Trade) (bool, error) {
	for _, existing := range f.trades {
		if existing.TradePK == t.TradePK {
			return false, nil
		}
	}
	f.trades = append(f.trades, t)
	return true, nil
}

func (f *fakeTradeStore) LastTradeTS(ctx context.Context) (time.Time, error) {
	var max time.Time
	for _, t := range f.trades {
		if t.TradeTS.After(max) {
			max = t.TradeTS
		}
	}
	return max, nil
}

func (f *fakeTradeStore) ListSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if !t.TradeTS.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeWalletStore struct {
	wallets map[string]domain.Wallet
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: make(map[string]domain.Wallet)}
}

func (f *fakeWalletStore) Get(ctx context.Context, address string) (domain.Wallet, error) {
	w, ok := f.wallets[address]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (f *fakeWalletStore) Upsert(ctx context.Context, w domain.Wallet) error {
	f.wallets[w.Address] = w
	return nil
}

func (f *fakeWalletStore) ListTracked(ctx context.Context, now time.Time) ([]domain.Wallet, error) {
	return nil, nil
}

func (f *fakeWalletStore) ReplaceExposures(ctx context.Context, wallet string, exposures []domain.WalletExposure) error {
	return nil
}

type fakeMetricStore struct {
	latest map[string]domain.MetricSnapshot
}

func (f *fakeMetricStore) Append(ctx context.Context, snap domain.MetricSnapshot) error { return nil }
func (f *fakeMetricStore) AppendBatch(ctx context.Context, snaps []domain.MetricSnapshot) error {
	return nil
}

func (f *fakeMetricStore) Latest(ctx context.Context, conditionID string) (domain.MetricSnapshot, error) {
	if f.latest == nil {
		return domain.MetricSnapshot{}, domain.ErrNotFound
	}
	snap, ok := f.latest[conditionID]
	if !ok {
		return domain.MetricSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeMetricStore) SelectUniverse(ctx context.Context, minVolume, minLiquidity, minOI float64, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeMetricStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MetricSnapshot, error) {
	return nil, nil
}

func (f *fakeMetricStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMetricStore) DownsampleHourly(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeSignalStore struct {
	events []domain.SignalEvent
	keys   map[string]struct{}
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{keys: make(map[string]struct{})}
}

func (f *fakeSignalStore) Insert(ctx context.Context, ev domain.SignalEvent) (bool, error) {
	if _, ok := f.keys[ev.DedupeKey]; ok {
		return false, nil
	}
	f.keys[ev.DedupeKey] = struct{}{}
	ev.ID = int64(len(f.events) + 1)
	f.events = append(f.events, ev)
	return true, nil
}

func (f *fakeSignalStore) LastEmittedAt(ctx context.Context, signalType domain.SignalType, conditionID string) (time.Time, error) {
	var max time.Time
	for _, ev := range f.events {
		if ev.SignalType == signalType && ev.ConditionID == conditionID && ev.CreatedAt.After(max) {
			max = ev.CreatedAt
		}
	}
	return max, nil
}

func (f *fakeSignalStore) ListUndispatched(ctx context.Context, limit int) ([]domain.SignalEvent, error) {
	return append([]domain.SignalEvent(nil), f.events...), nil
}

func (f *fakeSignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SignalEvent, error) {
	return nil, nil
}

func (f *fakeSignalStore) CountByTypeSince(ctx context.Context, since time.Time) (map[domain.SignalType]int64, error) {
	return nil, nil
}

func (f *fakeSignalStore) byType(st domain.SignalType) []domain.SignalEvent {
	var out []domain.SignalEvent
	for _, ev := range f.events {
		if ev.SignalType == st {
			out = append(out, ev)
		}
	}
	return out
}

// ---------------------------------------------------------------------------

func testRuntime(t *testing.T) *config.Runtime {
	t.Helper()
	cfg := config.Defaults()
	return config.NewRuntime("", nil, &cfg)
}

func newTestEngine(t *testing.T, trades *fakeTradeStore, wallets *fakeWalletStore, metrics *fakeMetricStore, store *fakeSignalStore) *TradeEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewTradeEngine(testRuntime(t), trades, wallets, metrics, store, nil, logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestTradeEngineLargeNewWalletTrade(t *testing.T) {
	now := time.Now().UTC()
	trades := &fakeTradeStore{trades: []domain.Trade{{
		TradePK:         "tx:0xT",
		TransactionHash: "0xT",
		Wallet:          "0xA",
		ConditionID:     "0xC1",
		TokenID:         "tok-yes",
		Side:            domain.TradeSideBuy,
		Price:           0.60,
		Size:            20_000,
		NotionalUSD:     12_000,
		TradeTS:         now.Add(-time.Minute),
	}}}
	wallets := newFakeWalletStore()
	store := newFakeSignalStore()

	engine := newTestEngine(t, trades, wallets, &fakeMetricStore{}, store)
	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 2 {
		t.Fatalf("emitted = %d, want 2", emitted)
	}

	large := store.byType(domain.SignalLargeTakerTrade)
	if len(large) != 1 || large[0].Severity != 3 {
		// 12k notional is band 2, +1 for the brand-new wallet.
		t.Errorf("LARGE_TAKER_TRADE = %+v, want one event with severity 3", large)
	}
	fresh := store.byType(domain.SignalLargeNewWalletTrade)
	if len(fresh) != 1 || fresh[0].Severity != 3 {
		t.Errorf("LARGE_NEW_WALLET_TRADE = %+v, want one event with severity 3", fresh)
	}

	w, err := wallets.Get(context.Background(), "0xA")
	if err != nil {
		t.Fatal("wallet row should exist after processing")
	}
	if w.FirstTradeTS == nil || w.LifetimeNotionalUSD != 12_000 {
		t.Errorf("wallet state = %+v", w)
	}
	if w.FirstSeenAt.After(*w.FirstTradeTS) && w.FirstTradeTS.After(w.LastSeenAt) {
		t.Errorf("wallet timestamps out of order: %+v", w)
	}

	// Re-running over the same rows must not create duplicate signals.
	engine2 := newTestEngine(t, trades, wallets, &fakeMetricStore{}, store)
	emitted, err = engine2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 0 {
		t.Errorf("re-run emitted %d signals, want 0", emitted)
	}
}

func TestTradeEngineDormantReactivation(t *testing.T) {
	now := time.Now().UTC()
	lastSeen := now.Add(-45 * 24 * time.Hour)

	wallets := newFakeWalletStore()
	wallets.wallets["0xB"] = domain.Wallet{
		Address:             "0xB",
		FirstSeenAt:         now.Add(-200 * 24 * time.Hour),
		LastSeenAt:          lastSeen,
		LifetimeNotionalUSD: 1000,
	}

	trades := &fakeTradeStore{trades: []domain.Trade{{
		TradePK:     "tx:0xU",
		Wallet:      "0xB",
		ConditionID: "0xC2",
		TokenID:     "tok-no",
		Side:        domain.TradeSideSell,
		Price:       0.50,
		Size:        150_000,
		NotionalUSD: 75_000,
		TradeTS:     now.Add(-time.Minute),
	}}}
	store := newFakeSignalStore()

	engine := newTestEngine(t, trades, wallets, &fakeMetricStore{}, store)
	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 2 {
		t.Fatalf("emitted = %d, want 2", emitted)
	}

	large := store.byType(domain.SignalLargeTakerTrade)
	if len(large) != 1 || large[0].Severity != 3 {
		t.Errorf("LARGE_TAKER_TRADE = %+v, want severity 3", large)
	}
	dormant := store.byType(domain.SignalDormantReactivation)
	if len(dormant) != 1 || dormant[0].Severity != 3 {
		t.Errorf("DORMANT_WALLET_REACTIVATION = %+v, want severity 3", dormant)
	}
	if len(store.byType(domain.SignalLargeNewWalletTrade)) != 0 {
		t.Error("a 200-day-old wallet must not emit LARGE_NEW_WALLET_TRADE")
	}
}

func TestTradeEngineBelowThreshold(t *testing.T) {
	now := time.Now().UTC()
	trades := &fakeTradeStore{trades: []domain.Trade{{
		TradePK:     "tx:0xV",
		Wallet:      "0xC",
		ConditionID: "0xC3",
		TokenID:     "tok-yes",
		Side:        domain.TradeSideBuy,
		Price:       0.50,
		Size:        100,
		NotionalUSD: 50,
		TradeTS:     now.Add(-time.Minute),
	}}}
	wallets := newFakeWalletStore()
	store := newFakeSignalStore()

	engine := newTestEngine(t, trades, wallets, &fakeMetricStore{}, store)
	emitted, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d, want 0 for a small trade", emitted)
	}
	if _, err := wallets.Get(context.Background(), "0xC"); err != nil {
		t.Error("wallet state should still be updated for small trades")
	}
}
