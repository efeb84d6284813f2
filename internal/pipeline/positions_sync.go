package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/platform/polymarket"
)

// PositionSyncer refreshes market exposure for wallets whose tracking window
// (opened by a large trade) is still active. Positions are aggregated per
// condition: share counts signed by outcome, plus a volume-weighted entry
// price.
type PositionSyncer struct {
	runtime *config.Runtime
	data    *polymarket.DataClient
	wallets domain.WalletStore
	logger  *slog.Logger
}

// NewPositionSyncer creates a PositionSyncer.
func NewPositionSyncer(runtime *config.Runtime, data *polymarket.DataClient, wallets domain.WalletStore, logger *slog.Logger) *PositionSyncer {
	return &PositionSyncer{
		runtime: runtime,
		data:    data,
		wallets: wallets,
		logger:  logger.With(slog.String("component", "positions_sync")),
	}
}

// Run refreshes exposures for every tracked wallet and returns the number of
// positions processed.
func (s *PositionSyncer) Run(ctx context.Context) (int, error) {
	cfg := s.runtime.Current()
	now := time.Now().UTC()

	tracked, err := s.wallets.ListTracked(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("positions sync: list tracked: %w", err)
	}
	if len(tracked) == 0 {
		return 0, nil
	}

	processed := 0
	for _, wallet := range tracked {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		positions, err := s.data.GetPositions(ctx, wallet.Address,
			cfg.Sync.PositionsPageLimit, cfg.Sync.PositionsSizeThreshold)
		if err != nil {
			return processed, fmt.Errorf("positions sync: wallet %s: %w", wallet.Address, err)
		}

		exposures := aggregateExposures(wallet.Address, positions, now)
		if err := s.wallets.ReplaceExposures(ctx, wallet.Address, exposures); err != nil {
			return processed, fmt.Errorf("positions sync: replace %s: %w", wallet.Address, err)
		}
		processed += len(positions)
	}

	s.logger.InfoContext(ctx, "positions synced",
		slog.Int("wallets", len(tracked)),
		slog.Int("positions", processed),
	)
	return processed, nil
}

func aggregateExposures(wallet string, positions []polymarket.APIPosition, now time.Time) []domain.WalletExposure {
	type bucket struct {
		net   float64
		cost  float64
		total float64
	}
	buckets := make(map[string]*bucket)

	for _, p := range positions {
		if p.ConditionID == "" || !p.Size.Valid {
			continue
		}
		b, ok := buckets[p.ConditionID]
		if !ok {
			b = &bucket{}
			buckets[p.ConditionID] = b
		}
		size := p.Size.Value
		sign := 1.0
		if strings.EqualFold(strings.TrimSpace(p.Outcome), "no") {
			sign = -1
		}
		b.net += size * sign
		abs := size
		if abs < 0 {
			abs = -abs
		}
		if p.AvgPrice.Valid {
			b.cost += abs * p.AvgPrice.Value
		}
		b.total += abs
	}

	out := make([]domain.WalletExposure, 0, len(buckets))
	for conditionID, b := range buckets {
		exp := domain.WalletExposure{
			Wallet:        wallet,
			ConditionID:   conditionID,
			NetShares:     b.net,
			LastUpdatedAt: now,
		}
		if b.total > 0 && b.cost > 0 {
			avg := b.cost / b.total
			exp.AvgEntryPrice = &avg
		}
		out = append(out, exp)
	}
	return out
}
