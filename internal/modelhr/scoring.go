package modelhr

import (
	"github.com/netfryer/maestro/internal/modelhr/types"
	"github.com/netfryer/maestro/internal/pricing"
)

const (
	weightReliability = 0.3
	weightExpertise    = 0.4
	weightPriorQuality = 0.3

	penaltyProbation  = 0.15
	penaltyDeprecated = 0.10

	maxCostPenalty = 0.25
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func findPrior(model types.ModelRegistryEntry, taskType, difficulty string) *types.PerformancePrior {
	for i := range model.PerformancePriors {
		p := &model.PerformancePriors[i]
		if p.TaskType == taskType && p.Difficulty == difficulty {
			return p
		}
	}
	return nil
}

func expertiseFor(model types.ModelRegistryEntry, taskType string) float64 {
	if v, ok := model.Expertise[taskType]; ok {
		return v
	}
	if v, ok := model.Expertise["general"]; ok {
		return v
	}
	return 0
}

func tierThreshold(tier types.TierProfile) float64 {
	switch tier {
	case types.TierCheap:
		return pricing.TierCheapCeilingUSD
	case types.TierStandard:
		return pricing.TierStandardCeilingUSD
	default:
		return pricing.TierPremiumCeilingUSD
	}
}

// ComputeModelScore is the pure, explainable scoring function of
// spec.md §4.1b. Two callers with identical model/ctx/prior snapshots
// must get identical breakdowns.
func ComputeModelScore(model types.ModelRegistryEntry, ctx types.EligibilityCtx, pricingExpectedCostUSD float64) types.ScoreBreakdown {
	if model.Identity.Status == types.StatusDisabled {
		return types.ScoreBreakdown{}
	}

	prior := findPrior(model, ctx.TaskType, ctx.Difficulty)

	baseReliability := weightReliability * clamp01(model.Reliability)
	expertiseComponent := weightExpertise * clamp01(expertiseFor(model, ctx.TaskType))

	priorQualityComponent := 0.0
	costMultiplier := 1.0
	if prior != nil {
		priorQualityComponent = weightPriorQuality * clamp01(prior.QualityPrior) * clamp01(prior.CalibrationConfidence)
		if prior.CostMultiplier > 0 {
			costMultiplier = prior.CostMultiplier
		}
	}

	statusPenalty := 0.0
	switch model.Identity.Status {
	case types.StatusProbation:
		statusPenalty = penaltyProbation
	case types.StatusDeprecated:
		statusPenalty = penaltyDeprecated
	}

	threshold := tierThreshold(ctx.TierProfile)
	adjustedCost := pricingExpectedCostUSD * costMultiplier
	costPenalty := 0.0
	if threshold > 0 && adjustedCost > threshold {
		costPenalty = (adjustedCost/threshold - 1) * 0.1
		if costPenalty > maxCostPenalty {
			costPenalty = maxCostPenalty
		}
	}

	final := clamp01(baseReliability + expertiseComponent + priorQualityComponent - statusPenalty - costPenalty)

	return types.ScoreBreakdown{
		FinalScore:            final,
		BaseReliability:       baseReliability,
		ExpertiseComponent:    expertiseComponent,
		PriorQualityComponent: priorQualityComponent,
		StatusPenalty:         statusPenalty,
		CostPenalty:           costPenalty,
	}
}
