package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
log_level = "debug"

[arb]
edge_min = 0.02

[universe]
max_tracked_markets = 50
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	// Env beats both the TOML file and DB overrides.
	t.Setenv("ARB_EDGE_MIN", "0.03")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %s, want debug (from TOML)", cfg.LogLevel)
	}
	if cfg.Universe.MaxTrackedMarkets != 50 {
		t.Errorf("max_tracked_markets = %d, want 50 (from TOML)", cfg.Universe.MaxTrackedMarkets)
	}
	if cfg.Arb.EdgeMin != 0.03 {
		t.Errorf("edge_min = %v, want 0.03 (env over TOML)", cfg.Arb.EdgeMin)
	}

	// DB overrides land between TOML and env.
	cfg.ApplyOverrides(map[string]string{
		"ARB_EDGE_MIN":              "0.04",
		"LARGE_TRADE_USD_THRESHOLD": "25000",
		"NOT_A_REAL_KEY":            "ignored",
	})
	cfg.ApplyEnvOverrides()
	if cfg.Arb.EdgeMin != 0.03 {
		t.Errorf("edge_min = %v, env must win over DB override", cfg.Arb.EdgeMin)
	}
	if cfg.Trades.LargeTradeUSDThreshold != 25000 {
		t.Errorf("threshold = %v, want DB override applied", cfg.Trades.LargeTradeUSDThreshold)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trades.LargeTradeUSDThreshold != 10_000 {
		t.Errorf("default threshold = %v", cfg.Trades.LargeTradeUSDThreshold)
	}
	if cfg.Websocket.MaxAssets != 400 {
		t.Errorf("default ws max assets = %d", cfg.Websocket.MaxAssets)
	}
}

func TestValidateRejectsBadEdgeMin(t *testing.T) {
	cfg := Defaults()
	cfg.Arb.EdgeMin = 0.2
	err := cfg.Validate()
	if err == nil {
		t.Fatal("edge_min outside (0, 0.05] must be fatal")
	}
	if !strings.Contains(err.Error(), "edge_min") {
		t.Errorf("error does not name the field: %v", err)
	}

	cfg = Defaults()
	cfg.Arb.EdgeMin = 0
	if cfg.Validate() == nil {
		t.Error("edge_min of zero must be fatal")
	}
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	cfg := Defaults()
	cfg.Database.DSN = ""
	cfg.Database.Host = ""
	if cfg.Validate() == nil {
		t.Error("missing database target must be fatal")
	}

	cfg = Defaults()
	cfg.Database.Host = ""
	cfg.Database.DSN = "postgres://u:p@localhost:5432/db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("a DSN alone should satisfy validation: %v", err)
	}
}

func TestSnapshotReturnsNamedKeys(t *testing.T) {
	cfg := Defaults()
	snap := cfg.Snapshot("ARB_EDGE_MIN", "TAKER_FEE_BPS", "UNKNOWN_KEY")
	if snap["ARB_EDGE_MIN"] != 0.01 {
		t.Errorf("snapshot edge_min = %v", snap["ARB_EDGE_MIN"])
	}
	if _, ok := snap["TAKER_FEE_BPS"]; !ok {
		t.Error("snapshot missing TAKER_FEE_BPS")
	}
	if _, ok := snap["UNKNOWN_KEY"]; ok {
		t.Error("unknown keys must be omitted")
	}
}
