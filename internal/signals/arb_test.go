package signals

import (
	"math"
	"testing"

	"github.com/polymercado/engine/internal/domain"
)

func levels(pairs ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func TestAvgAskMonotonic(t *testing.T) {
	asks := levels(0.48, 100, 0.50, 500, 0.55, 250)

	prev := 0.0
	total := 850.0
	for q := 10.0; q <= total; q += 10 {
		avg, ok := AvgAsk(asks, q)
		if !ok {
			t.Fatalf("AvgAsk(%v) unexpectedly shallow", q)
		}
		if avg < prev {
			t.Errorf("AvgAsk not monotonic: avg(%v)=%v < %v", q, avg, prev)
		}
		if avg < asks[0].Price {
			t.Errorf("AvgAsk(%v)=%v below best ask %v", q, avg, asks[0].Price)
		}
		prev = avg
	}

	if _, ok := AvgAsk(asks, total+1); ok {
		t.Error("AvgAsk beyond total depth should be undefined")
	}
}

func TestComputeArbBasic(t *testing.T) {
	// YES asks [(0.48,100),(0.50,500)], NO asks [(0.50,200),(0.52,400)].
	// At q=100: 0.48+0.50=0.98, edge 0.02. At q=200: 0.49+0.50=0.99,
	// edge at the 0.01 boundary. q_max=200, severity 3.
	asksYes := levels(0.48, 100, 0.50, 500)
	asksNo := levels(0.50, 200, 0.52, 400)

	res := ComputeArb(asksYes, asksNo, ArbParams{
		EdgeMin:             0.01,
		MinExecutableShares: 50,
		MaxSharesToEvaluate: 5000,
	})

	if !res.Found {
		t.Fatal("expected an opportunity")
	}
	if res.QMax != 200 {
		t.Errorf("q_max = %v, want 200", res.QMax)
	}
	if math.Abs(res.EdgeAtQMax-0.01) > 1e-9 {
		t.Errorf("edge_at_q_max = %v, want ~0.01", res.EdgeAtQMax)
	}
	if math.Abs(res.AvgYesAtQMax-0.49) > 1e-9 {
		t.Errorf("avg_ask_yes at q_max = %v, want 0.49", res.AvgYesAtQMax)
	}
	if math.Abs(res.AvgNoAtQMax-0.50) > 1e-9 {
		t.Errorf("avg_ask_no at q_max = %v, want 0.50", res.AvgNoAtQMax)
	}
	if !res.EdgeAtMinQValid || math.Abs(res.EdgeAtMinQ-0.02) > 1e-9 {
		t.Errorf("edge_at_min_q = %v (valid=%v), want 0.02", res.EdgeAtMinQ, res.EdgeAtMinQValid)
	}

	if got := ArbSeverity(res.EdgeAtQMax, res.QMax, 1); got != 3 {
		t.Errorf("severity = %d, want 3", got)
	}
}

func TestComputeArbNoDepth(t *testing.T) {
	// Top of book sums to 0.98 but only 5 shares are cheap on each side;
	// the minimum executable size cannot be filled at an edge.
	asksYes := levels(0.49, 5, 0.60, 1000)
	asksNo := levels(0.49, 5, 0.60, 1000)

	res := ComputeArb(asksYes, asksNo, ArbParams{
		EdgeMin:             0.01,
		MinExecutableShares: 50,
		MaxSharesToEvaluate: 5000,
	})
	if res.Found {
		t.Fatalf("expected no opportunity, got q_max=%v edge=%v", res.QMax, res.EdgeAtQMax)
	}
}

func TestComputeArbBoundedByDepth(t *testing.T) {
	asksYes := levels(0.40, 100)
	asksNo := levels(0.40, 300)

	res := ComputeArb(asksYes, asksNo, ArbParams{
		EdgeMin:             0.01,
		MinExecutableShares: 50,
		MaxSharesToEvaluate: 5000,
	})
	if !res.Found {
		t.Fatal("expected an opportunity")
	}
	if res.QMax > 100 {
		t.Errorf("q_max = %v exceeds the shallow side's depth", res.QMax)
	}
}

func TestComputeArbFee(t *testing.T) {
	asksYes := levels(0.48, 200)
	asksNo := levels(0.48, 200)

	// Without fee: cost 0.96, edge 0.04. With 500 bps the fee adds
	// 0.96*0.05 = 0.048, killing the edge entirely.
	withFee := ComputeArb(asksYes, asksNo, ArbParams{
		EdgeMin:             0.01,
		MinExecutableShares: 50,
		MaxSharesToEvaluate: 5000,
		TakerFeeBps:         500,
	})
	if withFee.Found {
		t.Errorf("fee should erase the edge, got edge=%v", withFee.EdgeAtQMax)
	}

	noFee := ComputeArb(asksYes, asksNo, ArbParams{
		EdgeMin:             0.01,
		MinExecutableShares: 50,
		MaxSharesToEvaluate: 5000,
	})
	if !noFee.Found || math.Abs(noFee.EdgeAtQMax-0.04) > 1e-9 {
		t.Errorf("without fee expected edge 0.04, got %v (found=%v)", noFee.EdgeAtQMax, noFee.Found)
	}
}

func TestArbSeverityBands(t *testing.T) {
	cases := []struct {
		edge, qMax, age float64
		want            int
	}{
		{0.02, 600, 0, 4},
		{0.012, 150, 0, 3},
		{0.011, 50, 0, 2},
		{0.02, 600, 6, 3},  // stale book subtracts one
		{0.005, 50, 10, 1}, // clamped at 1
	}
	for _, tc := range cases {
		if got := ArbSeverity(tc.edge, tc.qMax, tc.age); got != tc.want {
			t.Errorf("ArbSeverity(%v, %v, %v) = %d, want %d", tc.edge, tc.qMax, tc.age, got, tc.want)
		}
	}
}

func TestNormalizeLevels(t *testing.T) {
	raw := []domain.PriceLevel{
		{Price: 0.50, Size: 10},
		{Price: 0.48, Size: 5},
		{Price: 0, Size: 100},
		{Price: 0.52, Size: 0},
		{Price: 0.49, Size: -1},
	}
	got := NormalizeLevels(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(got))
	}
	if got[0].Price != 0.48 || got[1].Price != 0.50 {
		t.Errorf("levels not ascending: %v", got)
	}
}
