package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/platform/polymarket"
)

// TradeSyncer pages the taker-trades endpoint and persists prints
// idempotently. It walks back by offset until it reaches trades older than
// the last ingested timestamp minus the safety window (bounded by the
// initial lookback on a cold start), or until the page cap is hit.
type TradeSyncer struct {
	runtime *config.Runtime
	data    *polymarket.DataClient
	trades  domain.TradeStore
	logger  *slog.Logger
}

// NewTradeSyncer creates a TradeSyncer.
func NewTradeSyncer(runtime *config.Runtime, data *polymarket.DataClient, trades domain.TradeStore, logger *slog.Logger) *TradeSyncer {
	return &TradeSyncer{
		runtime: runtime,
		data:    data,
		trades:  trades,
		logger:  logger.With(slog.String("component", "trades_sync")),
	}
}

// Run ingests one walk of the trades endpoint and returns the number of new
// rows.
func (s *TradeSyncer) Run(ctx context.Context) (int, error) {
	cfg := s.runtime.Current()

	lastTS, err := s.trades.LastTradeTS(ctx)
	if err != nil {
		return 0, fmt.Errorf("trades sync: last trade ts: %w", err)
	}
	var stopTS time.Time
	if !lastTS.IsZero() {
		stopTS = lastTS.Add(-time.Duration(cfg.Sync.TradeSafetyWindowSeconds) * time.Second)
	} else {
		stopTS = time.Now().UTC().Add(-time.Duration(cfg.Sync.TradesInitialLookbackHours) * time.Hour)
	}

	inserted := 0
	skipped := 0
	offset := 0

	for page := 0; page < cfg.Sync.TradesMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		apiTrades, err := s.data.GetTrades(ctx,
			cfg.Trades.TakerOnly,
			cfg.Trades.LargeTradeUSDThreshold,
			cfg.Sync.TradesPageLimit,
			offset,
		)
		if err != nil {
			if inserted > 0 {
				// Throttled or failing mid-walk: report partial progress and
				// let the next interval resume from durable state.
				s.logger.WarnContext(ctx, "trade walk truncated",
					slog.Int("inserted", inserted),
					slog.String("error", err.Error()),
				)
				return inserted, nil
			}
			return 0, fmt.Errorf("trades sync: page %d: %w", page, err)
		}
		if len(apiTrades) == 0 {
			break
		}

		stopReached := false
		for i := range apiTrades {
			trade, ok := s.normalize(&apiTrades[i])
			if !ok {
				skipped++
				continue
			}
			if trade.TradeTS.Before(stopTS) {
				stopReached = true
				break
			}
			wasNew, err := s.trades.Insert(ctx, trade)
			if err != nil {
				return inserted, fmt.Errorf("trades sync: insert: %w", err)
			}
			if wasNew {
				inserted++
			}
		}

		if stopReached || len(apiTrades) < cfg.Sync.TradesPageLimit {
			break
		}
		offset += cfg.Sync.TradesPageLimit
	}

	s.logger.InfoContext(ctx, "trades synced",
		slog.Int("inserted", inserted),
		slog.Int("skipped", skipped),
	)
	return inserted, nil
}

// normalize converts one upstream print into a Trade row. Records missing
// required fields are dropped (counted by the caller), never fatal.
func (s *TradeSyncer) normalize(t *polymarket.APITrade) (domain.Trade, bool) {
	ts, ok := t.TradeTS()
	if !ok {
		return domain.Trade{}, false
	}
	if t.ConditionID == "" || t.Asset == "" {
		return domain.Trade{}, false
	}
	side := domain.TradeSide(t.Side)
	if side != domain.TradeSideBuy && side != domain.TradeSideSell {
		return domain.Trade{}, false
	}
	if !t.Price.Valid || !t.Size.Valid || t.Size.Value < 0 {
		return domain.Trade{}, false
	}

	raw, _ := json.Marshal(t)
	return domain.Trade{
		TradePK:         t.DedupeKey(),
		TransactionHash: t.TransactionHash,
		Wallet:          t.Wallet(),
		ConditionID:     t.ConditionID,
		TokenID:         t.Asset,
		Side:            side,
		Price:           t.Price.Value,
		Size:            t.Size.Value,
		NotionalUSD:     t.Price.Value * t.Size.Value,
		TradeTS:         ts,
		Raw:             raw,
	}, true
}
