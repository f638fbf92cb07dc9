package router

import (
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
	"github.com/netfryer/maestro/internal/pricing"
)

func cheapModel(id string, reliability float64) types.ModelRegistryEntry {
	return types.ModelRegistryEntry{
		ID:          id,
		Identity:    types.Identity{Provider: "openai", ModelID: id, Status: types.StatusActive},
		Reliability: reliability,
		Pricing:     types.Pricing{InPer1K: 0.0001, OutPer1K: 0.0001, Currency: "USD"},
		Expertise:   map[string]float64{"general": 0.5},
	}
}

func TestRoute_DisqualifiesDisabled(t *testing.T) {
	disabled := cheapModel("openai/d", 0.9)
	disabled.Identity.Status = types.StatusDisabled
	ok := cheapModel("openai/ok", 0.9)

	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierStandard},
		[]types.ModelRegistryEntry{disabled, ok},
		Config{},
		1.0,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{},
		nil,
	)
	if result.ChosenModelID != "openai/ok" {
		t.Errorf("ChosenModelID = %q, want openai/ok", result.ChosenModelID)
	}
	found := false
	for _, d := range result.Audit.Disqualified {
		if d.ModelID == "openai/d" && d.Reason == "disabled" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected disabled model in disqualified list, got %+v", result.Audit.Disqualified)
	}
}

func TestRoute_PolicyVetoDisqualifiesEligibleCandidate(t *testing.T) {
	vetoed := cheapModel("openai/vetoed", 0.9)
	ok := cheapModel("openai/ok", 0.9)

	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierStandard},
		[]types.ModelRegistryEntry{vetoed, ok},
		Config{},
		1.0,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{PolicyVeto: func(m types.ModelRegistryEntry) (bool, string) {
			if m.ID == "openai/vetoed" {
				return false, "blocked_provider"
			}
			return true, ""
		}},
		nil,
	)
	if result.ChosenModelID != "openai/ok" {
		t.Errorf("ChosenModelID = %q, want openai/ok", result.ChosenModelID)
	}
	found := false
	for _, d := range result.Audit.Disqualified {
		if d.ModelID == "openai/vetoed" && d.Reason == "policy_veto: blocked_provider" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected policy-vetoed model in disqualified list, got %+v", result.Audit.Disqualified)
	}
}

func TestRoute_NoEligibleCandidates(t *testing.T) {
	disabled := cheapModel("openai/d", 0.9)
	disabled.Identity.Status = types.StatusDisabled
	result := Route(
		TaskCard{TierProfile: types.TierStandard},
		[]types.ModelRegistryEntry{disabled},
		Config{},
		1.0,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{},
		nil,
	)
	if result.ChosenModelID != "" {
		t.Errorf("expected no chosen model, got %q", result.ChosenModelID)
	}
}

func TestRoute_BudgetFailHardReturnsNoChoice(t *testing.T) {
	expensive := cheapModel("openai/e", 0.9)
	expensive.Pricing = types.Pricing{InPer1K: 10, OutPer1K: 10, Currency: "USD"}

	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierPremium},
		[]types.ModelRegistryEntry{expensive},
		Config{},
		0.001,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{OnBudgetFail: OnBudgetFailHard},
		nil,
	)
	if result.ChosenModelID != "" {
		t.Errorf("expected no chosen model with onBudgetFail=fail, got %q", result.ChosenModelID)
	}
	if result.Audit.FallbackReason != "no_candidate_within_budget" {
		t.Errorf("FallbackReason = %q, want no_candidate_within_budget", result.Audit.FallbackReason)
	}
	if _, ok := result.Audit.CandidateScores["openai/e"]; !ok {
		t.Errorf("expected CandidateScores to carry the eligible-but-unaffordable candidate, got %+v", result.Audit.CandidateScores)
	}
}

func TestRoute_BudgetFailBestEffortPicksCheapest(t *testing.T) {
	expensive := cheapModel("openai/e", 0.9)
	expensive.Pricing = types.Pricing{InPer1K: 10, OutPer1K: 10, Currency: "USD"}
	cheaper := cheapModel("openai/c", 0.5)
	cheaper.Pricing = types.Pricing{InPer1K: 5, OutPer1K: 5, Currency: "USD"}

	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierPremium},
		[]types.ModelRegistryEntry{expensive, cheaper},
		Config{},
		0.001,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{OnBudgetFail: OnBudgetFailBestEffort},
		nil,
	)
	if result.ChosenModelID != "openai/c" {
		t.Errorf("ChosenModelID = %q, want cheapest openai/c", result.ChosenModelID)
	}
	if result.Audit.FallbackReason != "no_candidate_within_budget" {
		t.Errorf("FallbackReason = %q, want no_candidate_within_budget", result.Audit.FallbackReason)
	}
}

func TestRoute_CheapestViableRankedByCost(t *testing.T) {
	pricey := cheapModel("openai/pricey", 0.95)
	pricey.Pricing = types.Pricing{InPer1K: 0.01, OutPer1K: 0.01, Currency: "USD"}
	bargain := cheapModel("openai/bargain", 0.5)
	bargain.Pricing = types.Pricing{InPer1K: 0.0001, OutPer1K: 0.0001, Currency: "USD"}

	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierPremium},
		[]types.ModelRegistryEntry{pricey, bargain},
		Config{},
		10.0,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{},
		RoutingOpts{CheapestViableChosen: true},
		nil,
	)
	if result.ChosenModelID != "openai/bargain" {
		t.Errorf("ChosenModelID = %q, want openai/bargain under cheapest-viable ranking", result.ChosenModelID)
	}
	if result.Audit.RankedBy != "cheapest_viable" {
		t.Errorf("RankedBy = %q, want cheapest_viable", result.Audit.RankedBy)
	}
}

func TestRoute_PortfolioLockBypassesWhenNoSlotSurvives(t *testing.T) {
	ok := cheapModel("openai/ok", 0.9)
	result := Route(
		TaskCard{TaskType: "general", Difficulty: "easy", TierProfile: types.TierStandard},
		[]types.ModelRegistryEntry{ok},
		Config{},
		1.0,
		pricing.EstimatedTokens{Input: 500, Output: 300},
		PortfolioOpts{Mode: PortfolioLock, Recommendation: &Recommendation{SlotModelIDs: []string{"openai/nonexistent"}}},
		RoutingOpts{},
		nil,
	)
	if !result.Audit.PortfolioBypassed {
		t.Error("expected portfolio bypass when no locked slot survives")
	}
	if result.ChosenModelID != "openai/ok" {
		t.Errorf("expected fallback to general candidate set, got %q", result.ChosenModelID)
	}
}

func TestEstimateTokensForTask_ShortDirectiveFallsBackToDefaults(t *testing.T) {
	got := EstimateTokensForTask("general", "medium", "short")
	want := difficultyDefaults["medium"]
	if got != want {
		t.Errorf("EstimateTokensForTask = %+v, want %+v", got, want)
	}
}

func TestEstimateTokensForTask_LongDirectiveUsesHeuristicClamped(t *testing.T) {
	long := make([]byte, 40000)
	for i := range long {
		long[i] = 'x'
	}
	got := EstimateTokensForTask("coding", "hard", string(long))
	if got.Input > maxInputTokens || got.Output > maxOutputTokens {
		t.Errorf("got %+v, expected clamped to ceilings", got)
	}
}
