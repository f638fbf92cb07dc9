package modelhr

import (
	"math"
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeModelScore_DisabledReturnsZero(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusDisabled
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierStandard}, 0.001)
	if got != (types.ScoreBreakdown{}) {
		t.Errorf("expected zero breakdown, got %+v", got)
	}
}

func TestComputeModelScore_NoPriorComponents(t *testing.T) {
	m := baseModel()
	m.Reliability = 1.0
	m.Expertise = map[string]float64{"general": 1.0}
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierStandard, TaskType: "general"}, 0.001)
	if !approxEqual(got.BaseReliability, 0.3) {
		t.Errorf("BaseReliability = %f, want 0.3", got.BaseReliability)
	}
	if !approxEqual(got.ExpertiseComponent, 0.4) {
		t.Errorf("ExpertiseComponent = %f, want 0.4", got.ExpertiseComponent)
	}
	if got.PriorQualityComponent != 0 {
		t.Errorf("PriorQualityComponent = %f, want 0", got.PriorQualityComponent)
	}
	if !approxEqual(got.FinalScore, 0.7) {
		t.Errorf("FinalScore = %f, want 0.7", got.FinalScore)
	}
}

func TestComputeModelScore_ProbationPenalty(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusProbation
	m.Reliability = 1.0
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierStandard}, 0)
	if !approxEqual(got.StatusPenalty, 0.15) {
		t.Errorf("StatusPenalty = %f, want 0.15", got.StatusPenalty)
	}
}

func TestComputeModelScore_CostPenaltyAppliedAboveThreshold(t *testing.T) {
	m := baseModel()
	m.Reliability = 1.0
	// standard threshold = 0.01; expected cost way above it
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierStandard}, 0.1)
	if got.CostPenalty <= 0 {
		t.Errorf("expected positive cost penalty, got %f", got.CostPenalty)
	}
}

func TestComputeModelScore_CostPenaltyCapped(t *testing.T) {
	m := baseModel()
	m.Reliability = 1.0
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierCheap}, 10.0)
	if got.CostPenalty != 0.25 {
		t.Errorf("CostPenalty = %f, want capped 0.25", got.CostPenalty)
	}
}

func TestComputeModelScore_FinalScoreClamped(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusProbation
	m.Reliability = 0
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierCheap}, 10.0)
	if got.FinalScore != 0 {
		t.Errorf("FinalScore = %f, want clamped to 0", got.FinalScore)
	}
}

func TestComputeModelScore_PriorQualityUsesCalibration(t *testing.T) {
	m := baseModel()
	m.PerformancePriors = []types.PerformancePrior{
		{TaskType: "general", Difficulty: "medium", QualityPrior: 1.0, CalibrationConfidence: 0.5, CostMultiplier: 1.0},
	}
	got := ComputeModelScore(m, types.EligibilityCtx{TierProfile: types.TierStandard, TaskType: "general", Difficulty: "medium"}, 0)
	if !approxEqual(got.PriorQualityComponent, 0.15) {
		t.Errorf("PriorQualityComponent = %f, want 0.15", got.PriorQualityComponent)
	}
}
