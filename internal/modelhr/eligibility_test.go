package modelhr

import (
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

func baseModel() types.ModelRegistryEntry {
	return types.ModelRegistryEntry{
		ID:       "openai/gpt-4o",
		Identity: types.Identity{Provider: "openai", ModelID: "gpt-4o", Status: types.StatusActive},
		Guardrails: types.Guardrails{SafetyCategory: "standard"},
	}
}

func TestIsEligible_DisabledWins(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusDisabled
	m.Identity.DisabledReason = "cost spike"
	got := IsEligible(m, types.EligibilityCtx{})
	if got.Eligible || got.Reason != "disabled" || got.Detail != "cost spike" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_KillSwitchBeatsDeprecated(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusDeprecated
	m.Governance.KillSwitch = true
	got := IsEligible(m, types.EligibilityCtx{})
	if got.Eligible || got.Reason != "kill_switch" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_DeprecatedIsEligibleWithDetail(t *testing.T) {
	m := baseModel()
	m.Identity.Status = types.StatusDeprecated
	got := IsEligible(m, types.EligibilityCtx{TierProfile: types.TierStandard})
	if !got.Eligible || got.Detail != "deprecated; consider migrating" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_TierNotAllowed(t *testing.T) {
	m := baseModel()
	m.Governance.AllowedTiers = []types.TierProfile{types.TierPremium}
	got := IsEligible(m, types.EligibilityCtx{TierProfile: types.TierCheap})
	if got.Eligible || got.Reason != "tier_not_allowed" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_ProviderBlocked(t *testing.T) {
	m := baseModel()
	got := IsEligible(m, types.EligibilityCtx{BlockedProviders: []string{"openai"}})
	if got.Eligible || got.Reason != "provider_blocked" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_TaskTypeBlocked(t *testing.T) {
	m := baseModel()
	m.Governance.BlockedTaskTypes = []string{"legal"}
	got := IsEligible(m, types.EligibilityCtx{TaskType: "legal"})
	if got.Eligible || got.Reason != "task_type_blocked" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_RestrictedUseCase(t *testing.T) {
	m := baseModel()
	m.Guardrails.RestrictedUseCases = []string{"medical"}
	got := IsEligible(m, types.EligibilityCtx{UseCaseTags: []string{"medical"}})
	if got.Eligible || got.Reason != "restricted_use_case" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_RestrictedSafetyCategoryAndCheapTier(t *testing.T) {
	m := baseModel()
	m.Guardrails.SafetyCategory = "restricted"
	got := IsEligible(m, types.EligibilityCtx{TierProfile: types.TierCheap})
	if got.Eligible || got.Reason != "restricted_use_case" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_RestrictedSafetyCategoryButNotCheapTierPasses(t *testing.T) {
	m := baseModel()
	m.Guardrails.SafetyCategory = "restricted"
	got := IsEligible(m, types.EligibilityCtx{TierProfile: types.TierStandard})
	if !got.Eligible {
		t.Errorf("expected eligible, got %+v", got)
	}
}

func TestIsEligible_BudgetTooLow(t *testing.T) {
	m := baseModel()
	m.Governance.EligibilityRules.WhenBudgetAboveMinUSD = 1.0
	got := IsEligible(m, types.EligibilityCtx{BudgetRemainingUSD: 0.5})
	if got.Eligible || got.Reason != "budget_too_low" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_ImportanceTooLow(t *testing.T) {
	m := baseModel()
	m.Governance.EligibilityRules.WhenImportanceBelowMaxImportance = 0.5
	importance := 0.9
	got := IsEligible(m, types.EligibilityCtx{Importance: &importance})
	if got.Eligible || got.Reason != "importance_too_low" {
		t.Errorf("got %+v", got)
	}
}

func TestIsEligible_HappyPath(t *testing.T) {
	m := baseModel()
	got := IsEligible(m, types.EligibilityCtx{TierProfile: types.TierStandard, TaskType: "general"})
	if !got.Eligible {
		t.Errorf("expected eligible, got %+v", got)
	}
}
