package types

import "strings"

// SplitCanonicalID parses "<provider>/<modelId>" into its parts. It returns
// ok=false when the id has no separator, mirroring the worked
// provider-detection cascade this replaces: rather than sniffing a
// provider from a bare model name, the canonical id always carries it.
func SplitCanonicalID(id string) (provider, modelID string, ok bool) {
	idx := strings.Index(id, "/")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}

// FallbackModels is the small hard-coded set used when the registry storage
// driver returns empty or errors (spec.md §4.1a "Registry health").
var FallbackModels = []ModelRegistryEntry{
	{
		ID:       "openai/gpt-4o-mini",
		Identity: Identity{Provider: "openai", ModelID: "gpt-4o-mini", Status: StatusActive},
		Pricing:  Pricing{InPer1K: 0.00015, OutPer1K: 0.0006, Currency: "USD"},
		Expertise: map[string]float64{"general": 0.6},
		Reliability: 0.9,
		Guardrails: Guardrails{SafetyCategory: "standard"},
		Governance: Governance{AllowedTiers: []TierProfile{TierCheap, TierStandard, TierPremium}},
		EvaluationMeta: EvaluationMeta{CanaryStatus: CanaryPassed},
	},
	{
		ID:       "anthropic/claude-3-haiku",
		Identity: Identity{Provider: "anthropic", ModelID: "claude-3-haiku", Status: StatusActive},
		Pricing:  Pricing{InPer1K: 0.00025, OutPer1K: 0.00125, Currency: "USD"},
		Expertise: map[string]float64{"general": 0.65, "writing": 0.7},
		Reliability: 0.9,
		Guardrails: Guardrails{SafetyCategory: "standard"},
		Governance: Governance{AllowedTiers: []TierProfile{TierCheap, TierStandard, TierPremium}},
		EvaluationMeta: EvaluationMeta{CanaryStatus: CanaryPassed},
	},
}
