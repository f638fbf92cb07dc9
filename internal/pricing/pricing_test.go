package pricing

import (
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

func entryWithPricing(in, out float64) types.ModelRegistryEntry {
	return types.ModelRegistryEntry{
		ID:      "openai/gpt-4o-mini",
		Pricing: types.Pricing{InPer1K: in, OutPer1K: out, Currency: "USD"},
	}
}

func TestEstimate_NoPrior(t *testing.T) {
	entry := entryWithPricing(0.00015, 0.0006)
	cost := Estimate(entry, "coding", "medium", EstimatedTokens{Input: 1000, Output: 1000})
	want := 0.00015 + 0.0006
	if cost < want-1e-9 || cost > want+1e-9 {
		t.Errorf("Estimate() = %f, want %f", cost, want)
	}
}

func TestEstimate_WithCostMultiplier(t *testing.T) {
	entry := entryWithPricing(0.00015, 0.0006)
	entry.PerformancePriors = []types.PerformancePrior{
		{TaskType: "coding", Difficulty: "hard", CostMultiplier: 1.5},
	}
	cost := Estimate(entry, "coding", "hard", EstimatedTokens{Input: 1000, Output: 1000})
	want := (0.00015 + 0.0006) * 1.5
	if cost < want-1e-9 || cost > want+1e-9 {
		t.Errorf("Estimate() = %f, want %f", cost, want)
	}
}

func TestEstimate_MissingPricingFallsBack(t *testing.T) {
	entry := types.ModelRegistryEntry{ID: "unknown/model"}
	cost := Estimate(entry, "general", "easy", EstimatedTokens{Input: 1000, Output: 0})
	want := 1000 * DefaultPerTokenUSD
	if cost < want-1e-9 || cost > want+1e-9 {
		t.Errorf("Estimate() = %f, want %f", cost, want)
	}
}

func TestEstimate_NegativeTokensTreatedAsZero(t *testing.T) {
	entry := entryWithPricing(0.001, 0.002)
	cost := Estimate(entry, "general", "easy", EstimatedTokens{Input: -5, Output: -10})
	if cost != 0 {
		t.Errorf("Estimate() with negative tokens = %f, want 0", cost)
	}
}

func TestEstimate_MinCharge(t *testing.T) {
	entry := entryWithPricing(0.0001, 0.0001)
	entry.Pricing.MinChargeUSD = 0.01
	cost := Estimate(entry, "general", "easy", EstimatedTokens{Input: 10, Output: 10})
	if cost != 0.01 {
		t.Errorf("Estimate() = %f, want min charge 0.01", cost)
	}
}

func TestTierForCost(t *testing.T) {
	tests := []struct {
		cost float64
		want types.TierProfile
	}{
		{0.0001, types.TierCheap},
		{TierCheapCeilingUSD, types.TierCheap},
		{TierCheapCeilingUSD + 0.0001, types.TierStandard},
		{TierStandardCeilingUSD, types.TierStandard},
		{TierStandardCeilingUSD + 0.0001, types.TierPremium},
		{1.0, types.TierPremium},
	}
	for _, tt := range tests {
		if got := TierForCost(tt.cost); got != tt.want {
			t.Errorf("TierForCost(%f) = %v, want %v", tt.cost, got, tt.want)
		}
	}
}

func TestWithinTier(t *testing.T) {
	if !WithinTier(types.TierCheap, TierCheapCeilingUSD) {
		t.Error("expected cost at ceiling to be within tier")
	}
	if WithinTier(types.TierCheap, TierCheapCeilingUSD+0.0001) {
		t.Error("expected cost above ceiling to not be within tier")
	}
	if !WithinTier(types.TierPremium, TierPremiumCeilingUSD) {
		t.Error("expected premium ceiling to be within tier")
	}
}
