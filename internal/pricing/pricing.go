// Package pricing turns a registry entry's pricing block and its learned
// performance priors into a predicted cost for a candidate work package,
// and classifies that cost against the tier thresholds used by routing
// and the budget governor.
package pricing

import (
	"github.com/netfryer/maestro/internal/metrics"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// Tier cost ceilings, USD per work package.
const (
	TierCheapCeilingUSD    = 0.0015
	TierStandardCeilingUSD = 0.01
	TierPremiumCeilingUSD  = 0.05
)

// DefaultPerTokenUSD is the fallback combined per-token price used when a
// model has no pricing block at all (should only happen for malformed
// registry entries; recorded as a pricing fallback).
const DefaultPerTokenUSD = 0.000002

// EstimatedTokens is the input/output split estimated for a work package
// before execution, produced by the router's token estimator.
type EstimatedTokens struct {
	Input  int
	Output int
}

// Estimate predicts the USD cost of running a work package on entry,
// applying the task/difficulty cost multiplier from the matching
// performance prior when one exists (spec.md §4.1a).
func Estimate(entry types.ModelRegistryEntry, taskType, difficulty string, tokens EstimatedTokens) float64 {
	in := tokens.Input
	out := tokens.Output
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}

	base := baseCost(entry, in, out)
	mult := costMultiplier(entry, taskType, difficulty)
	return base * mult
}

func baseCost(entry types.ModelRegistryEntry, inputTokens, outputTokens int) float64 {
	p := entry.Pricing
	if p.InPer1K <= 0 && p.OutPer1K <= 0 {
		metrics.PricingFallbacks.WithLabelValues("missing_pricing").Inc()
		return float64(inputTokens+outputTokens) * DefaultPerTokenUSD
	}
	cost := (float64(inputTokens)/1000.0)*p.InPer1K + (float64(outputTokens)/1000.0)*p.OutPer1K
	if p.MinChargeUSD > 0 && cost < p.MinChargeUSD {
		cost = p.MinChargeUSD
	}
	return cost
}

// costMultiplier looks up the performance prior matching (taskType,
// difficulty) and returns its CostMultiplier, defaulting to 1.0 when no
// prior has been learned yet.
func costMultiplier(entry types.ModelRegistryEntry, taskType, difficulty string) float64 {
	for _, prior := range entry.PerformancePriors {
		if prior.TaskType == taskType && prior.Difficulty == difficulty {
			if prior.CostMultiplier > 0 {
				return prior.CostMultiplier
			}
			return 1.0
		}
	}
	metrics.PricingFallbacks.WithLabelValues("no_prior").Inc()
	return 1.0
}

// TierForCost classifies a predicted cost into the tier whose ceiling it
// fits under, returning the most expensive tier (premium) when the cost
// exceeds even that ceiling — callers treat that as "over budget" rather
// than silently downgrading.
func TierForCost(predictedUSD float64) types.TierProfile {
	switch {
	case predictedUSD <= TierCheapCeilingUSD:
		return types.TierCheap
	case predictedUSD <= TierStandardCeilingUSD:
		return types.TierStandard
	default:
		return types.TierPremium
	}
}

// WithinTier reports whether predictedUSD fits inside the ceiling for tier.
func WithinTier(tier types.TierProfile, predictedUSD float64) bool {
	switch tier {
	case types.TierCheap:
		return predictedUSD <= TierCheapCeilingUSD
	case types.TierStandard:
		return predictedUSD <= TierStandardCeilingUSD
	case types.TierPremium:
		return predictedUSD <= TierPremiumCeilingUSD
	default:
		return true
	}
}
