package modelhr

import (
	"github.com/netfryer/maestro/internal/modelhr/types"
)

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func containsTier(ts []types.TierProfile, v types.TierProfile) bool {
	for _, t := range ts {
		if t == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// IsEligible evaluates the nine-step fixed-precedence eligibility chain
// against a single candidate (spec.md §4.1b). Each step short-circuits —
// the first disqualifying rule wins.
func IsEligible(model types.ModelRegistryEntry, ctx types.EligibilityCtx) types.EligibilityResult {
	if model.Identity.Status == types.StatusDisabled {
		return types.EligibilityResult{Eligible: false, Reason: "disabled", Detail: model.Identity.DisabledReason}
	}
	if model.Governance.KillSwitch {
		return types.EligibilityResult{Eligible: false, Reason: "kill_switch"}
	}

	var deprecatedDetail string
	if model.Identity.Status == types.StatusDeprecated {
		deprecatedDetail = "deprecated; consider migrating"
	}

	if len(model.Governance.AllowedTiers) > 0 && !containsTier(model.Governance.AllowedTiers, ctx.TierProfile) {
		return types.EligibilityResult{Eligible: false, Reason: "tier_not_allowed"}
	}
	if contains(ctx.BlockedProviders, model.Identity.Provider) {
		return types.EligibilityResult{Eligible: false, Reason: "provider_blocked"}
	}
	if contains(model.Governance.BlockedTaskTypes, ctx.TaskType) {
		return types.EligibilityResult{Eligible: false, Reason: "task_type_blocked"}
	}
	if intersects(model.Guardrails.RestrictedUseCases, ctx.UseCaseTags) {
		return types.EligibilityResult{Eligible: false, Reason: "restricted_use_case"}
	}
	if model.Guardrails.SafetyCategory == "restricted" && ctx.TierProfile == types.TierCheap {
		return types.EligibilityResult{Eligible: false, Reason: "restricted_use_case"}
	}

	rules := model.Governance.EligibilityRules
	if rules.WhenBudgetAboveMinUSD > 0 && ctx.BudgetRemainingUSD < rules.WhenBudgetAboveMinUSD {
		return types.EligibilityResult{Eligible: false, Reason: "budget_too_low"}
	}
	if rules.WhenImportanceBelowMaxImportance > 0 && ctx.Importance != nil && *ctx.Importance > rules.WhenImportanceBelowMaxImportance {
		return types.EligibilityResult{Eligible: false, Reason: "importance_too_low"}
	}

	return types.EligibilityResult{Eligible: true, Detail: deprecatedDetail}
}
