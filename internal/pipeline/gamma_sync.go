// Package pipeline contains the concrete fetch jobs driven by the scheduler:
// market discovery, tag metadata, universe selection, open interest, taker
// trades, orderbook polling, wallet positions, data quality, and retention.
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

// GammaSyncer pages the Gamma events endpoint, upserts every embedded
// market, records volume/liquidity metric snapshots, and emits a NEW_MARKET
// signal for each condition ID seen for the first time.
type GammaSyncer struct {
	runtime *config.Runtime
	gamma   *polymarket.GammaClient
	markets domain.MarketStore
	metrics domain.MetricStore
	signals domain.SignalStore
	logger  *slog.Logger
}

// NewGammaSyncer creates a GammaSyncer.
func NewGammaSyncer(runtime *config.Runtime, gamma *polymarket.GammaClient, markets domain.MarketStore, metrics domain.MetricStore, signals domain.SignalStore, logger *slog.Logger) *GammaSyncer {
	return &GammaSyncer{
		runtime: runtime,
		gamma:   gamma,
		markets: markets,
		metrics: metrics,
		signals: signals,
		logger:  logger.With(slog.String("component", "gamma_sync")),
	}
}

// newMarketPayload is the evidence object on NEW_MARKET signals.
type newMarketPayload struct {
	ConditionID string     `json:"condition_id"`
	Slug        string     `json:"slug,omitempty"`
	Title       string     `json:"title,omitempty"`
	Tags        []int64    `json:"tags,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	TokenIDs    []string   `json:"token_ids,omitempty"`
}

// Run executes one full paginated sync and returns the number of markets
// processed.
func (s *GammaSyncer) Run(ctx context.Context) (int, error) {
	cfg := s.runtime.Current()
	processed := 0
	offset := 0

	for page := 0; page < cfg.Sync.GammaEventsMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		events, err := s.gamma.GetEvents(ctx, cfg.Sync.GammaEventsPageLimit, offset)
		if err != nil {
			return processed, fmt.Errorf("gamma sync: page %d: %w", page, err)
		}
		if len(events) == 0 {
			break
		}

		now := time.Now().UTC()
		var batch []domain.Market
		parsedByID := make(map[string]polymarket.ParsedMarket)
		for i := range events {
			event := &events[i]
			for j := range event.Markets {
				parsed := polymarket.ParseMarket(event, &event.Markets[j], now)
				if parsed.Market.ConditionID == "" {
					// Missing the natural key: count and skip, never fatal.
					s.logger.DebugContext(ctx, "skipping market without condition id",
						slog.String("event_id", event.ID),
					)
					continue
				}
				batch = append(batch, parsed.Market)
				parsedByID[parsed.Market.ConditionID] = parsed
			}
		}

		newIDs, err := s.markets.UpsertBatch(ctx, batch)
		if err != nil {
			return processed, fmt.Errorf("gamma sync: upsert page %d: %w", page, err)
		}
		for _, id := range newIDs {
			if err := s.emitNewMarket(ctx, parsedByID[id].Market, now); err != nil {
				return processed, err
			}
		}

		var snaps []domain.MetricSnapshot
		for _, parsed := range parsedByID {
			if parsed.GammaVolume == nil && parsed.GammaLiquidity == nil {
				continue
			}
			snaps = append(snaps, domain.MetricSnapshot{
				ConditionID:    parsed.Market.ConditionID,
				TS:             now,
				GammaVolume:    parsed.GammaVolume,
				GammaLiquidity: parsed.GammaLiquidity,
			})
		}
		if err := s.metrics.AppendBatch(ctx, snaps); err != nil {
			return processed, fmt.Errorf("gamma sync: metrics page %d: %w", page, err)
		}

		processed += len(batch)
		offset += cfg.Sync.GammaEventsPageLimit
	}

	s.logger.InfoContext(ctx, "gamma events synced", slog.Int("markets", processed))
	return processed, nil
}

func (s *GammaSyncer) emitNewMarket(ctx context.Context, m domain.Market, now time.Time) error {
	payload, err := json.Marshal(newMarketPayload{
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		Title:       m.Title,
		Tags:        m.TagIDs,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
		TokenIDs:    m.TokenIDs,
	})
	if err != nil {
		return fmt.Errorf("gamma sync: marshal new market payload: %w", err)
	}
	_, err = s.signals.Insert(ctx, domain.SignalEvent{
		SignalType:  domain.SignalNewMarket,
		DedupeKey:   fmt.Sprintf("NEW_MARKET:%s", m.ConditionID),
		CreatedAt:   now,
		Severity:    1,
		ConditionID: m.ConditionID,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("gamma sync: emit new market %s: %w", m.ConditionID, err)
	}
	return nil
}
