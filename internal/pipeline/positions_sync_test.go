package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/polymercado/engine/internal/platform/polymarket"
)

func position(t *testing.T, raw string) polymarket.APIPosition {
	t.Helper()
	var p polymarket.APIPosition
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAggregateExposures(t *testing.T) {
	now := time.Now().UTC()
	positions := []polymarket.APIPosition{
		position(t, `{"conditionId":"0xC1","outcome":"Yes","size":100,"avgPrice":"0.40"}`),
		position(t, `{"conditionId":"0xC1","outcome":"No","size":"30","avgPrice":0.55}`),
		position(t, `{"conditionId":"0xC2","outcome":"Yes","size":10}`),
		position(t, `{"outcome":"Yes","size":5}`), // no condition: dropped
	}

	exposures := aggregateExposures("0xW", positions, now)
	if len(exposures) != 2 {
		t.Fatalf("exposures = %d, want 2", len(exposures))
	}

	byCondition := map[string]float64{}
	for _, e := range exposures {
		byCondition[e.ConditionID] = e.NetShares
		if e.Wallet != "0xW" || !e.LastUpdatedAt.Equal(now) {
			t.Errorf("row metadata wrong: %+v", e)
		}
	}
	// Yes counts positive, No negative.
	if byCondition["0xC1"] != 70 {
		t.Errorf("net shares 0xC1 = %v, want 70", byCondition["0xC1"])
	}
	if byCondition["0xC2"] != 10 {
		t.Errorf("net shares 0xC2 = %v, want 10", byCondition["0xC2"])
	}

	for _, e := range exposures {
		if e.ConditionID == "0xC1" {
			if e.AvgEntryPrice == nil {
				t.Fatal("avg entry missing for 0xC1")
			}
			// (100*0.40 + 30*0.55) / 130
			want := (100*0.40 + 30*0.55) / 130
			if diff := *e.AvgEntryPrice - want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("avg entry = %v, want %v", *e.AvgEntryPrice, want)
			}
		}
		if e.ConditionID == "0xC2" && e.AvgEntryPrice != nil {
			t.Error("avg entry should be nil without prices")
		}
	}
}
