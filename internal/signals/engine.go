package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/universe"
)

// ArbPayload is the structured evidence object attached to ARB_BUY_BOTH
// signals: everything needed to audit the opportunity after the books move.
type ArbPayload struct {
	ConditionID    string              `json:"condition_id"`
	YesTokenID     string              `json:"yes_token_id"`
	NoTokenID      string              `json:"no_token_id"`
	NegRisk        bool                `json:"neg_risk"`
	AsOfYes        time.Time           `json:"as_of_yes"`
	AsOfNo         time.Time           `json:"as_of_no"`
	BestAskYes     float64             `json:"best_ask_yes"`
	BestAskNo      float64             `json:"best_ask_no"`
	TopOfBookSum   float64             `json:"top_of_book_sum"`
	EdgeMin        float64             `json:"edge_min"`
	MinShares      float64             `json:"min_executable_shares"`
	QMax           float64             `json:"q_max"`
	EdgeAtMinQ     *float64            `json:"edge_at_min_q"`
	EdgeAtQMax     float64             `json:"edge_at_q_max"`
	AvgAskYesAtQ   float64             `json:"avg_ask_yes_at_q_max"`
	AvgAskNoAtQ    float64             `json:"avg_ask_no_at_q_max"`
	AsksYesLevels  []domain.PriceLevel `json:"asks_yes_levels"`
	AsksNoLevels   []domain.PriceLevel `json:"asks_no_levels"`
	ConfigSnapshot map[string]any      `json:"config_snapshot"`
}

// ArbEngine evaluates the depth-aware buy-both arbitrage for every tracked
// binary market with fresh books in the cache.
type ArbEngine struct {
	runtime *config.Runtime
	tracker *universe.Tracker
	books   *bookcache.Cache
	store   domain.SignalStore
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewArbEngine creates an ArbEngine. bus may be nil.
func NewArbEngine(runtime *config.Runtime, tracker *universe.Tracker, books *bookcache.Cache, store domain.SignalStore, bus domain.SignalBus, logger *slog.Logger) *ArbEngine {
	return &ArbEngine{
		runtime: runtime,
		tracker: tracker,
		books:   books,
		store:   store,
		bus:     bus,
		logger:  logger.With(slog.String("component", "arb_engine")),
	}
}

// Run evaluates every tracked binary market once and returns the number of
// signals emitted.
func (e *ArbEngine) Run(ctx context.Context) (int, error) {
	cfg := e.runtime.Current()
	now := time.Now().UTC()
	maxAge := float64(cfg.Arb.MaxBookAgeSeconds)
	emitted := 0

	for _, market := range e.tracker.Markets() {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		yesToken, noToken, ok := market.BinaryTokens()
		if !ok {
			continue
		}

		yesBook, okYes := e.books.Get(yesToken)
		noBook, okNo := e.books.Get(noToken)
		if !okYes || !okNo {
			continue
		}
		ageYes := now.Sub(yesBook.AsOf).Seconds()
		ageNo := now.Sub(noBook.AsOf).Seconds()
		if ageYes > maxAge || ageNo > maxAge {
			continue
		}

		asksYes := NormalizeLevels(yesBook.Asks)
		asksNo := NormalizeLevels(noBook.Asks)
		if len(asksYes) == 0 || len(asksNo) == 0 {
			continue
		}

		// Fast screen on top of book before walking depth.
		if asksYes[0].Price+asksNo[0].Price >= 1-cfg.Arb.EdgeMin {
			continue
		}

		res := ComputeArb(asksYes, asksNo, ArbParams{
			EdgeMin:             cfg.Arb.EdgeMin,
			MinExecutableShares: cfg.Arb.MinExecutableShares,
			MaxSharesToEvaluate: cfg.Arb.MaxSharesToEvaluate,
			TakerFeeBps:         cfg.Arb.TakerFeeBps,
		})
		if !res.Found || res.QMax < cfg.Arb.MinExecutableShares {
			continue
		}

		// Per-market cooldown on top of the value-based dedupe key.
		lastAt, err := e.store.LastEmittedAt(ctx, domain.SignalArbBuyBoth, market.ConditionID)
		if err != nil {
			return emitted, fmt.Errorf("signals: arb cooldown lookup: %w", err)
		}
		cooldown := time.Duration(cfg.Arb.MarketCooldownSeconds) * time.Second
		if !lastAt.IsZero() && now.Sub(lastAt) < cooldown {
			continue
		}

		payload := ArbPayload{
			ConditionID:   market.ConditionID,
			YesTokenID:    yesToken,
			NoTokenID:     noToken,
			NegRisk:       market.NegRisk,
			AsOfYes:       yesBook.AsOf,
			AsOfNo:        noBook.AsOf,
			BestAskYes:    asksYes[0].Price,
			BestAskNo:     asksNo[0].Price,
			TopOfBookSum:  asksYes[0].Price + asksNo[0].Price,
			EdgeMin:       cfg.Arb.EdgeMin,
			MinShares:     cfg.Arb.MinExecutableShares,
			QMax:          res.QMax,
			EdgeAtQMax:    res.EdgeAtQMax,
			AvgAskYesAtQ:  res.AvgYesAtQMax,
			AvgAskNoAtQ:   res.AvgNoAtQMax,
			AsksYesLevels: FillLevels(asksYes, res.QMax),
			AsksNoLevels:  FillLevels(asksNo, res.QMax),
			ConfigSnapshot: cfg.Snapshot(
				"ARB_EDGE_MIN",
				"ARB_MIN_EXECUTABLE_SHARES",
				"ARB_MAX_SHARES_TO_EVALUATE",
				"ARB_MAX_BOOK_AGE_SECONDS",
				"TAKER_FEE_BPS",
			),
		}
		if res.EdgeAtMinQValid {
			v := res.EdgeAtMinQ
			payload.EdgeAtMinQ = &v
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return emitted, fmt.Errorf("signals: marshal arb payload: %w", err)
		}

		maxBookAge := ageYes
		if ageNo > maxBookAge {
			maxBookAge = ageNo
		}
		ev := domain.SignalEvent{
			SignalType: domain.SignalArbBuyBoth,
			DedupeKey: fmt.Sprintf("ARB_BUY_BOTH:%s:%.4f:%.2f",
				market.ConditionID, res.EdgeAtQMax, res.QMax),
			CreatedAt:   now,
			Severity:    ArbSeverity(res.EdgeAtQMax, res.QMax, maxBookAge),
			ConditionID: market.ConditionID,
			Payload:     raw,
		}

		inserted, err := e.store.Insert(ctx, ev)
		if err != nil {
			return emitted, fmt.Errorf("signals: insert arb signal: %w", err)
		}
		if !inserted {
			continue
		}
		emitted++
		e.logger.InfoContext(ctx, "arb signal emitted",
			slog.String("condition_id", market.ConditionID),
			slog.Float64("edge_at_q_max", res.EdgeAtQMax),
			slog.Float64("q_max", res.QMax),
			slog.Int("severity", ev.Severity),
		)
		e.publish(ctx, ev)
	}
	return emitted, nil
}

func (e *ArbEngine) publish(ctx context.Context, ev domain.SignalEvent) {
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
