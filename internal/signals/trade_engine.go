package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
)

// tradeBatchLimit bounds the rows pulled per engine run.
const tradeBatchLimit = 5000

// TradeEngine classifies newly-persisted trades: it maintains wallet state
// and emits LARGE_TAKER_TRADE, LARGE_NEW_WALLET_TRADE, and
// DORMANT_WALLET_REACTIVATION events. Reads overlap the previous run by the
// safety window; dedupe keys make reprocessing a no-op.
type TradeEngine struct {
	runtime *config.Runtime
	trades  domain.TradeStore
	wallets domain.WalletStore
	metrics domain.MetricStore
	store   domain.SignalStore
	bus     domain.SignalBus
	logger  *slog.Logger

	mu            sync.Mutex
	lastProcessed time.Time
}

// NewTradeEngine creates a TradeEngine. bus may be nil.
func NewTradeEngine(runtime *config.Runtime, trades domain.TradeStore, wallets domain.WalletStore, metrics domain.MetricStore, store domain.SignalStore, bus domain.SignalBus, logger *slog.Logger) *TradeEngine {
	return &TradeEngine{
		runtime: runtime,
		trades:  trades,
		wallets: wallets,
		metrics: metrics,
		store:   store,
		bus:     bus,
		logger:  logger.With(slog.String("component", "trade_engine")),
	}
}

// Run processes trades since the previous run (minus the safety window) in
// timestamp order and returns the number of signals emitted.
func (e *TradeEngine) Run(ctx context.Context) (int, error) {
	cfg := e.runtime.Current()
	now := time.Now().UTC()
	safety := time.Duration(cfg.Sync.TradeSafetyWindowSeconds) * time.Second

	e.mu.Lock()
	since := e.lastProcessed
	e.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-time.Duration(cfg.Sync.TradesInitialLookbackHours) * time.Hour)
	} else {
		since = since.Add(-safety)
	}

	trades, err := e.trades.ListSince(ctx, since, domain.ListOpts{Limit: tradeBatchLimit})
	if err != nil {
		return 0, fmt.Errorf("signals: list trades: %w", err)
	}

	emitted := 0
	highWater := e.lastProcessed
	walletCache := make(map[string]*domain.Wallet)

	for i := range trades {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		trade := &trades[i]
		if trade.TradeTS.After(highWater) {
			highWater = trade.TradeTS
		}

		n, err := e.processTrade(ctx, cfg, trade, walletCache, now)
		if err != nil {
			return emitted, err
		}
		emitted += n
	}

	e.mu.Lock()
	if highWater.After(e.lastProcessed) {
		e.lastProcessed = highWater
	}
	e.mu.Unlock()

	if emitted > 0 {
		e.logger.InfoContext(ctx, "trade signals emitted",
			slog.Int("signals", emitted),
			slog.Int("trades", len(trades)),
		)
	}
	return emitted, nil
}

func (e *TradeEngine) processTrade(ctx context.Context, cfg *config.Config, trade *domain.Trade, walletCache map[string]*domain.Wallet, now time.Time) (int, error) {
	var (
		wallet     *domain.Wallet
		wasDormant bool
	)

	if trade.Wallet != "" {
		w, ok := walletCache[trade.Wallet]
		if !ok {
			stored, err := e.wallets.Get(ctx, trade.Wallet)
			switch {
			case err == nil:
				w = &stored
			case err == domain.ErrNotFound:
				w = nil
			default:
				return 0, fmt.Errorf("signals: get wallet %s: %w", trade.Wallet, err)
			}
		}

		var trackedUntil *time.Time
		if days := cfg.Trades.TrackWalletDaysAfterLargeTrade; days > 0 {
			t := now.Add(time.Duration(days) * 24 * time.Hour)
			trackedUntil = &t
		}

		if w == nil {
			ts := trade.TradeTS
			w = &domain.Wallet{
				Address:             trade.Wallet,
				FirstSeenAt:         now,
				LastSeenAt:          now,
				FirstTradeTS:        &ts,
				TrackedUntil:        trackedUntil,
				LifetimeNotionalUSD: trade.NotionalUSD,
			}
		} else {
			wasDormant = IsDormant(*w, trade.TradeTS, cfg.Trades.DormantWindowDays)
			w.LastSeenAt = now
			w.LifetimeNotionalUSD += trade.NotionalUSD
			if trackedUntil != nil && (w.TrackedUntil == nil || w.TrackedUntil.Before(*trackedUntil)) {
				w.TrackedUntil = trackedUntil
			}
		}
		if err := e.wallets.Upsert(ctx, *w); err != nil {
			return 0, fmt.Errorf("signals: upsert wallet %s: %w", trade.Wallet, err)
		}
		walletCache[trade.Wallet] = w
		wallet = w
	}

	if trade.NotionalUSD < cfg.Trades.LargeTradeUSDThreshold {
		return 0, nil
	}

	isNew := wallet != nil && IsNewWallet(*wallet, trade.TradeTS, cfg.Trades.NewWalletWindowDays)

	lowLiquidity := false
	payload := TradePayload{
		Wallet:      trade.Wallet,
		TradeTS:     trade.TradeTS,
		ConditionID: trade.ConditionID,
		TokenID:     trade.TokenID,
		Side:        string(trade.Side),
		SizeShares:  trade.Size,
		Price:       trade.Price,
		NotionalUSD: trade.NotionalUSD,
		TxHash:      trade.TransactionHash,
		ConfigSnapshot: cfg.Snapshot(
			"LARGE_TRADE_USD_THRESHOLD",
			"NEW_WALLET_WINDOW_DAYS",
			"DORMANT_WINDOW_DAYS",
		),
	}
	if len(trade.Raw) > 0 {
		var ctxFields struct {
			Slug      string `json:"slug"`
			Title     string `json:"title"`
			EventSlug string `json:"eventSlug"`
			Outcome   string `json:"outcome"`
		}
		if err := json.Unmarshal(trade.Raw, &ctxFields); err == nil {
			payload.MarketSlug = ctxFields.Slug
			payload.MarketTitle = ctxFields.Title
			payload.EventSlug = ctxFields.EventSlug
			payload.Outcome = ctxFields.Outcome
		}
	}
	if wallet != nil {
		first := wallet.FirstSeenAt
		payload.WalletFirstSeen = &first
		age := int(wallet.LastSeenAt.Sub(wallet.FirstSeenAt).Hours() / 24)
		payload.WalletAgeDays = &age
	}
	if metrics, err := e.metrics.Latest(ctx, trade.ConditionID); err == nil {
		payload.MarketLiquidity = metrics.GammaLiquidity
		payload.MarketVolume = metrics.GammaVolume
		payload.MarketOI = metrics.OpenInterest
		if metrics.GammaLiquidity != nil {
			lowLiquidity = *metrics.GammaLiquidity < cfg.Universe.MinGammaLiquidity
		}
	} else if err != domain.ErrNotFound {
		return 0, fmt.Errorf("signals: latest metrics %s: %w", trade.ConditionID, err)
	}

	severity := TradeSeverity(trade.NotionalUSD, isNew, lowLiquidity)
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("signals: marshal trade payload: %w", err)
	}

	emitted := 0
	emit := func(signalType domain.SignalType) error {
		ev := domain.SignalEvent{
			SignalType:  signalType,
			DedupeKey:   fmt.Sprintf("%s:%s", signalType, trade.TradePK),
			CreatedAt:   now,
			Severity:    severity,
			Wallet:      trade.Wallet,
			ConditionID: trade.ConditionID,
			Payload:     raw,
		}
		inserted, err := e.store.Insert(ctx, ev)
		if err != nil {
			return fmt.Errorf("signals: insert %s: %w", signalType, err)
		}
		if inserted {
			emitted++
			e.publish(ctx, ev)
		}
		return nil
	}

	if err := emit(domain.SignalLargeTakerTrade); err != nil {
		return emitted, err
	}
	if isNew {
		if err := emit(domain.SignalLargeNewWalletTrade); err != nil {
			return emitted, err
		}
	}
	if wasDormant {
		if err := emit(domain.SignalDormantReactivation); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}

func (e *TradeEngine) publish(ctx context.Context, ev domain.SignalEvent) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.StreamAppend(ctx, "signals", data); err != nil {
		e.logger.DebugContext(ctx, "signal stream append failed",
			slog.String("error", err.Error()),
		)
	}
}
