package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/universe"
)

// UniverseSyncer recomputes the tracked-market set from the latest metrics:
// any active market passing the volume, liquidity, or open-interest floor,
// capped at the configured maximum, plus manual overrides.
type UniverseSyncer struct {
	runtime *config.Runtime
	metrics domain.MetricStore
	markets domain.MarketStore
	tracker *universe.Tracker
	// onChange, when set, receives the new tracked token set (used to
	// reconcile websocket subscriptions).
	onChange func(tokenIDs []string)
	logger   *slog.Logger
}

// NewUniverseSyncer creates a UniverseSyncer. onChange may be nil.
func NewUniverseSyncer(runtime *config.Runtime, metrics domain.MetricStore, markets domain.MarketStore, tracker *universe.Tracker, onChange func([]string), logger *slog.Logger) *UniverseSyncer {
	return &UniverseSyncer{
		runtime:  runtime,
		metrics:  metrics,
		markets:  markets,
		tracker:  tracker,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "universe_sync")),
	}
}

// Run recomputes the tracked set and returns its size.
func (s *UniverseSyncer) Run(ctx context.Context) (int, error) {
	cfg := s.runtime.Current()

	ids, err := s.metrics.SelectUniverse(ctx,
		cfg.Universe.MinGammaVolume,
		cfg.Universe.MinGammaLiquidity,
		cfg.Universe.MinOpenInterest,
		cfg.Universe.MaxTrackedMarkets,
	)
	if err != nil {
		return 0, fmt.Errorf("universe sync: select: %w", err)
	}

	// Manual overrides are always tracked, over and above the cap.
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range cfg.Universe.ManualConditions {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}

	markets, err := s.markets.ListByConditionIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("universe sync: load markets: %w", err)
	}
	s.tracker.Set(markets)

	if s.onChange != nil {
		s.onChange(s.tracker.TokenIDs())
	}

	s.logger.InfoContext(ctx, "universe recomputed",
		slog.Int("markets", len(markets)),
		slog.Int("tokens", len(s.tracker.TokenIDs())),
	)
	return len(markets), nil
}
