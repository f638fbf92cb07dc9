// Package router selects one model per work package under eligibility,
// trust, variance calibration, tier and budget constraints, and exposes
// a portfolio cache of recommendations reused across packages
// (spec.md §4.2).
package router

import (
	"sort"

	"github.com/netfryer/maestro/internal/ledger"
	"github.com/netfryer/maestro/internal/modelhr"
	"github.com/netfryer/maestro/internal/modelhr/types"
	"github.com/netfryer/maestro/internal/pricing"
)

// TaskCard is the minimal per-package routing input.
type TaskCard struct {
	TaskType    string
	Difficulty  string
	TierProfile types.TierProfile
	UseCaseTags []string
	Importance  *float64
}

// Config tunes routing behaviour independent of any single task.
type Config struct {
	BlockedProviders []string
}

// OnBudgetFail selects what happens when every candidate exceeds budget.
type OnBudgetFail string

const (
	OnBudgetFailBestEffort OnBudgetFail = "best_effort_within_budget"
	OnBudgetFailHard       OnBudgetFail = "fail"
)

// RoutingOpts are the caller-tunable knobs for a single route call.
type RoutingOpts struct {
	CheapestViableChosen bool
	OnBudgetFail         OnBudgetFail
	CandidateScores      map[string]types.ScoreBreakdown // precomputed, keyed by canonical id
	MinScoreThreshold    float64                          // used by cheapest-viable ranking

	// PolicyVeto, when set, is consulted once per candidate immediately
	// after it clears the fixed eligibility chain. It can only turn an
	// eligible candidate ineligible — never the reverse — so Route
	// stays correct when PolicyVeto is nil (no optional bundle loaded).
	PolicyVeto func(m types.ModelRegistryEntry) (allow bool, reason string)
}

// PortfolioMode controls how a cached recommendation constrains routing.
type PortfolioMode string

const (
	PortfolioOff    PortfolioMode = "off"
	PortfolioPrefer PortfolioMode = "prefer"
	PortfolioLock   PortfolioMode = "lock"
)

// PortfolioOpts carries the portfolio mode and, when present, a cached
// recommendation to apply.
type PortfolioOpts struct {
	Mode           PortfolioMode
	Recommendation *Recommendation
}

// Recommendation is a cached portfolio slot assignment: candidate ids
// preferred/locked for a given (taskType, tierProfile) slot.
type Recommendation struct {
	SlotModelIDs []string
}

// Disqualification records why a candidate was excluded, for the audit.
type Disqualification struct {
	ModelID string
	Reason  string
}

// RoutingAudit is the explainable trail attached to a ROUTE ledger entry.
type RoutingAudit struct {
	ChosenModelID          string
	RankedBy               string // cheapest_viable | score
	Disqualified           []Disqualification
	PricingMismatchCount   int
	PortfolioBypassed      bool
	PortfolioBypassReason  string
	EnforceCheapestViable  bool
	ChosenIsCheapestViable bool

	// CandidateScores is every eligible, non-vetoed candidate's score
	// breakdown, keyed by canonical id, as considered for this route.
	CandidateScores map[string]types.ScoreBreakdown

	// FallbackReason explains a route that could not pick a candidate
	// within budgetRemainingUSD: "no_eligible_candidates" when nothing was
	// eligible, or "no_candidate_within_budget" when nothing fit (the
	// cheapest candidate is then chosen under best-effort, none under a
	// hard budget failure). Empty when the chosen model fit the remaining
	// budget.
	FallbackReason string
}

// Candidate is an eligible model annotated with its predicted cost and
// score, ready for ranking.
type Candidate struct {
	Model          types.ModelRegistryEntry
	PredictedCost  float64
	Score          types.ScoreBreakdown
	PricingMismatch bool
}

// RouteResult is the outcome of Route.
type RouteResult struct {
	ChosenModelID string
	Audit         RoutingAudit
}

const pricingMismatchFactor = 2.0

// Route implements the six-step selection algorithm of spec.md §4.2.
func Route(
	card TaskCard,
	models []types.ModelRegistryEntry,
	cfg Config,
	budgetRemainingUSD float64,
	tokens pricing.EstimatedTokens,
	portfolioOpts PortfolioOpts,
	routingOpts RoutingOpts,
	callerPredictedCostUSD map[string]float64,
) RouteResult {
	audit := RoutingAudit{EnforceCheapestViable: routingOpts.CheapestViableChosen}
	if routingOpts.OnBudgetFail == "" {
		routingOpts.OnBudgetFail = OnBudgetFailBestEffort
	}

	eligCtx := types.EligibilityCtx{
		TaskType:           card.TaskType,
		Difficulty:         card.Difficulty,
		TierProfile:        card.TierProfile,
		BudgetRemainingUSD: budgetRemainingUSD,
		Importance:         card.Importance,
		UseCaseTags:        card.UseCaseTags,
		BlockedProviders:   cfg.BlockedProviders,
	}

	var candidates []Candidate
	for _, m := range models {
		elig := modelhr.IsEligible(m, eligCtx)
		if !elig.Eligible {
			audit.Disqualified = append(audit.Disqualified, Disqualification{ModelID: m.ID, Reason: elig.Reason})
			continue
		}
		if routingOpts.PolicyVeto != nil {
			if allow, reason := routingOpts.PolicyVeto(m); !allow {
				audit.Disqualified = append(audit.Disqualified, Disqualification{ModelID: m.ID, Reason: "policy_veto: " + reason})
				continue
			}
		}

		expected := pricing.Estimate(m, card.TaskType, card.Difficulty, tokens)
		mismatch := false
		if caller, ok := callerPredictedCostUSD[m.ID]; ok && expected > 0 {
			ratio := caller / expected
			if ratio > pricingMismatchFactor || ratio < 1/pricingMismatchFactor {
				mismatch = true
				audit.PricingMismatchCount++
			}
		}

		score := types.ScoreBreakdown{}
		if routingOpts.CandidateScores != nil {
			if s, ok := routingOpts.CandidateScores[m.ID]; ok {
				score = s
			}
		} else {
			score = modelhr.ComputeModelScore(m, eligCtx, expected)
		}

		candidates = append(candidates, Candidate{Model: m, PredictedCost: expected, Score: score, PricingMismatch: mismatch})
		if audit.CandidateScores == nil {
			audit.CandidateScores = make(map[string]types.ScoreBreakdown)
		}
		audit.CandidateScores[m.ID] = score
	}

	candidates = applyPortfolio(candidates, portfolioOpts, budgetRemainingUSD, &audit)

	if routingOpts.CheapestViableChosen {
		candidates = filterMinScore(candidates, routingOpts.MinScoreThreshold)
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].PredictedCost != candidates[j].PredictedCost {
				return candidates[i].PredictedCost < candidates[j].PredictedCost
			}
			return candidates[i].Score.FinalScore > candidates[j].Score.FinalScore
		})
		audit.RankedBy = "cheapest_viable"
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Score.FinalScore != candidates[j].Score.FinalScore {
				return candidates[i].Score.FinalScore > candidates[j].Score.FinalScore
			}
			return candidates[i].PredictedCost < candidates[j].PredictedCost
		})
		audit.RankedBy = "score"
	}

	chosen, ok, fallbackReason := selectWithinBudget(candidates, budgetRemainingUSD, routingOpts.OnBudgetFail)
	audit.FallbackReason = fallbackReason
	if !ok {
		return RouteResult{Audit: audit}
	}

	audit.ChosenModelID = chosen.Model.ID
	audit.ChosenIsCheapestViable = isCheapest(candidates, chosen)
	return RouteResult{ChosenModelID: chosen.Model.ID, Audit: audit}
}

func filterMinScore(candidates []Candidate, minScore float64) []Candidate {
	if minScore <= 0 {
		return candidates
	}
	var out []Candidate
	for _, c := range candidates {
		if c.Score.FinalScore >= minScore {
			out = append(out, c)
		}
	}
	return out
}

func selectWithinBudget(candidates []Candidate, budgetRemainingUSD float64, onFail OnBudgetFail) (Candidate, bool, string) {
	for _, c := range candidates {
		if c.PredictedCost <= budgetRemainingUSD {
			return c, true, ""
		}
	}
	if len(candidates) == 0 {
		return Candidate{}, false, "no_eligible_candidates"
	}
	if onFail == OnBudgetFailHard {
		return Candidate{}, false, "no_candidate_within_budget"
	}
	cheapest := candidates[0]
	for _, c := range candidates[1:] {
		if c.PredictedCost < cheapest.PredictedCost {
			cheapest = c
		}
	}
	return cheapest, true, "no_candidate_within_budget"
}

func isCheapest(candidates []Candidate, chosen Candidate) bool {
	for _, c := range candidates {
		if c.PredictedCost < chosen.PredictedCost {
			return false
		}
	}
	return true
}

func applyPortfolio(candidates []Candidate, opts PortfolioOpts, budgetRemainingUSD float64, audit *RoutingAudit) []Candidate {
	if opts.Mode == PortfolioOff || opts.Mode == "" || opts.Recommendation == nil {
		return candidates
	}

	switch opts.Mode {
	case PortfolioLock:
		slotSet := make(map[string]struct{}, len(opts.Recommendation.SlotModelIDs))
		for _, id := range opts.Recommendation.SlotModelIDs {
			slotSet[id] = struct{}{}
		}
		var restricted []Candidate
		for _, c := range candidates {
			if _, ok := slotSet[c.Model.ID]; ok {
				restricted = append(restricted, c)
			}
		}
		if len(restricted) == 0 {
			audit.PortfolioBypassed = true
			audit.PortfolioBypassReason = bypassReason(candidates, budgetRemainingUSD)
			return candidates
		}
		return restricted

	case PortfolioPrefer:
		slotSet := make(map[string]struct{}, len(opts.Recommendation.SlotModelIDs))
		for _, id := range opts.Recommendation.SlotModelIDs {
			slotSet[id] = struct{}{}
		}
		for i := range candidates {
			if _, ok := slotSet[candidates[i].Model.ID]; ok {
				candidates[i].Score.FinalScore += 0.05
				if candidates[i].Score.FinalScore > 1 {
					candidates[i].Score.FinalScore = 1
				}
			}
		}
		return candidates
	}
	return candidates
}

func bypassReason(candidates []Candidate, budgetRemainingUSD float64) string {
	if len(candidates) == 0 {
		return "allowed_models_ineligible"
	}
	anyWithinBudget := false
	for _, c := range candidates {
		if c.PredictedCost <= budgetRemainingUSD {
			anyWithinBudget = true
			break
		}
	}
	if !anyWithinBudget {
		return "allowed_models_over_budget"
	}
	return "allowed_models_below_quality"
}

// RecordRouteDecision writes the ROUTE ledger entry described in
// spec.md §4.2 step 7.
func RecordRouteDecision(l *ledger.Ledger, runSessionID, packageID string, result RouteResult) {
	l.RecordDecision(runSessionID, ledger.Decision{
		Type:      ledger.DecisionRoute,
		PackageID: packageID,
		Details: map[string]interface{}{
			"chosenModelId":          result.ChosenModelID,
			"enforceCheapestViable":  result.Audit.EnforceCheapestViable,
			"chosenIsCheapestViable": result.Audit.ChosenIsCheapestViable,
			"pricingMismatchCount":   result.Audit.PricingMismatchCount,
			"portfolioBypassed":      result.Audit.PortfolioBypassed,
			"portfolioBypassReason":  result.Audit.PortfolioBypassReason,
			"rankedBy":               result.Audit.RankedBy,
			"fallbackReason":         result.Audit.FallbackReason,
		},
	})
}
