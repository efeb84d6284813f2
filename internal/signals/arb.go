// Package signals materializes signal events from ingested data: large-trade
// and wallet-state classification, and depth-aware binary arbitrage.
package signals

import (
	"sort"

	"github.com/polymercado/engine/internal/domain"
)

// ArbParams are the knobs of one arbitrage evaluation.
type ArbParams struct {
	EdgeMin             float64
	MinExecutableShares float64
	MaxSharesToEvaluate float64
	TakerFeeBps         float64
}

// ArbResult is the outcome of evaluating one binary market.
type ArbResult struct {
	Found        bool
	QMax         float64
	EdgeAtQMax   float64
	AvgYesAtQMax float64
	AvgNoAtQMax  float64

	EdgeAtMinQ      float64
	EdgeAtMinQValid bool
}

// NormalizeLevels filters an ask ladder down to entries with positive price
// and size, sorted ascending by price.
func NormalizeLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price > 0 && lvl.Size > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// AvgAsk returns the volume-weighted average price paid to fill q shares
// greedily from the ladder. ok is false when the ladder is too shallow.
func AvgAsk(levels []domain.PriceLevel, q float64) (float64, bool) {
	if q <= 0 {
		return 0, false
	}
	remaining := q
	// Cost is summed relative to the first level's price so that rounding
	// cannot pull the average of a sorted ladder below its best ask.
	base := 0.0
	if len(levels) > 0 {
		base = levels[0].Price
	}
	extra := 0.0
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fill := lvl.Size
		if fill > remaining {
			fill = remaining
		}
		extra += fill * (lvl.Price - base)
		remaining -= fill
	}
	if remaining > 0 {
		return 0, false
	}
	return base + extra/q, true
}

// FillLevels returns the exact levels consumed to fill q shares greedily,
// with the last level truncated to the filled amount.
func FillLevels(levels []domain.PriceLevel, q float64) []domain.PriceLevel {
	remaining := q
	var used []domain.PriceLevel
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fill := lvl.Size
		if fill > remaining {
			fill = remaining
		}
		used = append(used, domain.PriceLevel{Price: lvl.Price, Size: fill})
		remaining -= fill
	}
	return used
}

// candidateQuantities returns the cumulative-depth breakpoints of a ladder,
// capped at maxShares. The piecewise-linear cost function can only change
// slope at these points, so checking them (plus the bounds) is exact.
func candidateQuantities(levels []domain.PriceLevel, maxShares float64) []float64 {
	var out []float64
	total := 0.0
	for _, lvl := range levels {
		total += lvl.Size
		if total > maxShares {
			total = maxShares
		}
		out = append(out, total)
		if total >= maxShares {
			break
		}
	}
	return out
}

// ComputeArb evaluates the buy-YES+buy-NO opportunity over both normalized
// ask ladders. It walks the union of both sides' depth breakpoints and keeps
// the largest quantity whose depth-aware total cost, including the taker fee,
// leaves an edge above EdgeMin.
func ComputeArb(asksYes, asksNo []domain.PriceLevel, p ArbParams) ArbResult {
	var res ArbResult

	candidates := map[float64]struct{}{
		p.MinExecutableShares: {},
		p.MaxSharesToEvaluate: {},
	}
	for _, q := range candidateQuantities(asksYes, p.MaxSharesToEvaluate) {
		candidates[q] = struct{}{}
	}
	for _, q := range candidateQuantities(asksNo, p.MaxSharesToEvaluate) {
		candidates[q] = struct{}{}
	}

	sorted := make([]float64, 0, len(candidates))
	for q := range candidates {
		if q >= p.MinExecutableShares {
			sorted = append(sorted, q)
		}
	}
	sort.Float64s(sorted)

	totalCost := func(avgYes, avgNo float64) float64 {
		base := avgYes + avgNo
		return base + base*p.TakerFeeBps/10_000
	}

	if avgYes, ok1 := AvgAsk(asksYes, p.MinExecutableShares); ok1 {
		if avgNo, ok2 := AvgAsk(asksNo, p.MinExecutableShares); ok2 {
			res.EdgeAtMinQ = 1 - totalCost(avgYes, avgNo)
			res.EdgeAtMinQValid = true
		}
	}

	for _, q := range sorted {
		avgYes, ok1 := AvgAsk(asksYes, q)
		avgNo, ok2 := AvgAsk(asksNo, q)
		if !ok1 || !ok2 {
			continue
		}
		edge := 1 - totalCost(avgYes, avgNo)
		if edge > p.EdgeMin {
			res.Found = true
			res.QMax = q
			res.EdgeAtQMax = edge
			res.AvgYesAtQMax = avgYes
			res.AvgNoAtQMax = avgNo
		}
	}
	return res
}

// ArbSeverity maps an emitted opportunity to its severity band, subtracting
// one notch when either book was older than five seconds at evaluation time.
func ArbSeverity(edgeAtQMax, qMax, maxBookAgeSeconds float64) int {
	severity := 2
	switch {
	case edgeAtQMax >= 0.015 && qMax >= 500:
		severity = 4
	case edgeAtQMax >= 0.010 && qMax >= 100:
		severity = 3
	}
	if maxBookAgeSeconds > 5 {
		severity--
	}
	if severity < 1 {
		severity = 1
	}
	if severity > 5 {
		severity = 5
	}
	return severity
}
