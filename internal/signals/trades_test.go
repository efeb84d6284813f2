package signals

import (
	"testing"
	"time"

	"github.com/polymercado/engine/internal/domain"
)

func TestTradeSeverityBands(t *testing.T) {
	cases := []struct {
		notional     float64
		isNew, thin  bool
		want         int
	}{
		{12_000, false, false, 2},
		{75_000, false, false, 3},
		{300_000, false, false, 4},
		{1_500_000, false, false, 5},
		{12_000, true, false, 3},
		{12_000, true, true, 4},
		{1_500_000, true, true, 5}, // clamped
	}
	for _, tc := range cases {
		if got := TradeSeverity(tc.notional, tc.isNew, tc.thin); got != tc.want {
			t.Errorf("TradeSeverity(%v, %v, %v) = %d, want %d",
				tc.notional, tc.isNew, tc.thin, got, tc.want)
		}
	}
}

func TestIsNewWallet(t *testing.T) {
	firstSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := domain.Wallet{Address: "0xA", FirstSeenAt: firstSeen, LastSeenAt: firstSeen}

	inside := firstSeen.Add(13 * 24 * time.Hour)
	if !IsNewWallet(w, inside, 14) {
		t.Error("trade inside the window should count as new")
	}
	boundary := firstSeen.Add(14 * 24 * time.Hour)
	if !IsNewWallet(w, boundary, 14) {
		t.Error("trade exactly at the window edge should count as new")
	}
	outside := firstSeen.Add(15 * 24 * time.Hour)
	if IsNewWallet(w, outside, 14) {
		t.Error("trade past the window should not count as new")
	}
}

func TestIsDormant(t *testing.T) {
	lastSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := domain.Wallet{Address: "0xA", FirstSeenAt: lastSeen.AddDate(0, -6, 0), LastSeenAt: lastSeen}

	if IsDormant(w, lastSeen.Add(29*24*time.Hour), 30) {
		t.Error("29 days idle is not dormant with a 30-day window")
	}
	if !IsDormant(w, lastSeen.Add(45*24*time.Hour), 30) {
		t.Error("45 days idle should be dormant with a 30-day window")
	}
}
