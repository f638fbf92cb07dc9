package config

import (
	"testing"
)

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	cfg := Load()
	if cfg.PersistenceDriver != PersistenceFile {
		t.Errorf("PersistenceDriver = %v, want file default", cfg.PersistenceDriver)
	}
	if cfg.TierCost.CheapUSD != 0.0015 {
		t.Errorf("TierCost.CheapUSD = %v, want 0.0015", cfg.TierCost.CheapUSD)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_PersistenceDriverFromEnv(t *testing.T) {
	t.Setenv("PERSISTENCE_DRIVER", "db")
	cfg := Load()
	if cfg.PersistenceDriver != PersistenceDB {
		t.Errorf("PersistenceDriver = %v, want db", cfg.PersistenceDriver)
	}
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("TIER_COST_CHEAP_USD", "not-a-number")
	cfg := Load()
	if cfg.TierCost.CheapUSD != 0.0015 {
		t.Errorf("TierCost.CheapUSD = %v, want default 0.0015 on parse failure", cfg.TierCost.CheapUSD)
	}
}

func TestValidate_RejectsInvertedBackpressureRatios(t *testing.T) {
	cfg := MaestroConfig{
		Backpressure: BackpressureThresholds{QAGateRatio: 1.0, RefuseNewRatio: 0.5},
		TierCost:     TierCostThresholds{CheapUSD: 0.0015, StandardUSD: 0.01, PremiumUSD: 0.05},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for inverted backpressure ratios")
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "on": true, "false": false, "0": false, "no": false, "off": false, "garbage": false}
	for in, want := range cases {
		if got := ParseBool(in); got != want {
			t.Errorf("ParseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
