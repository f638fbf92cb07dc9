// Package analytics rolls up run ledgers into KPI summaries and
// generates deterministic tuning proposals (spec.md §4.6). Every
// function here is pure with respect to its inputs: given identical
// ledger snapshots, two callers get byte-identical summaries and
// proposal ids.
package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/netfryer/maestro/internal/ledger"
)

// RoutingSummary aggregates portfolio and routing behaviour for one run.
type RoutingSummary struct {
	PortfolioMode     string
	RouteCount        int
	BypassCount       int
	BypassRate        float64
	TopBypassReasons  []ReasonCount
}

// GovernanceSummary aggregates HR/escalation activity for one run.
type GovernanceSummary struct {
	EscalationCount        int
	CouncilPlanningSkipped bool
}

// VarianceSummary aggregates variance-tracking activity for one run.
type VarianceSummary struct {
	SkippedCount     int
	TopSkipReasons   []ReasonCount
	QaTrustLowCount  int
}

// QualitySummary aggregates QA quality signal for one run.
type QualitySummary struct {
	AvgQaQualityScore float64
	HasQualitySignal  bool
}

// ReasonCount is a (reason, count) pair used for top-N reason lists.
type ReasonCount struct {
	Reason string
	Count  int
}

// LedgerSummary is the per-run rollup produced by SummarizeLedger.
type LedgerSummary struct {
	RunSessionID string
	DecisionCounts map[ledger.DecisionType]int
	TotalUSD     float64
	CostsByKind  map[ledger.CostKind]float64
	Routing      RoutingSummary
	Governance   GovernanceSummary
	Variance     VarianceSummary
	Quality      QualitySummary
}

const topNReasons = 5

// SummarizeLedger implements spec.md §4.6's summarizeLedger.
func SummarizeLedger(snap ledger.Snapshot, portfolioMode string) LedgerSummary {
	summary := LedgerSummary{
		RunSessionID:   snap.RunSessionID,
		DecisionCounts: make(map[ledger.DecisionType]int),
		CostsByKind:    make(map[ledger.CostKind]float64),
		Routing:        RoutingSummary{PortfolioMode: portfolioMode},
	}

	for k, v := range snap.Costs {
		summary.CostsByKind[k] = v
		summary.TotalUSD += v
	}

	bypassReasons := map[string]int{}
	varianceSkipReasons := map[string]int{}

	for _, d := range snap.Decisions {
		summary.DecisionCounts[d.Type]++
		switch d.Type {
		case ledger.DecisionRoute:
			summary.Routing.RouteCount++
			if bypassed, ok := d.Details["portfolioBypassed"].(bool); ok && bypassed {
				summary.Routing.BypassCount++
				if reason, ok := d.Details["portfolioBypassReason"].(string); ok && reason != "" {
					bypassReasons[reason]++
				}
			}
		case ledger.DecisionEscalation:
			summary.Governance.EscalationCount++
		}
	}

	if summary.Routing.RouteCount > 0 {
		summary.Routing.BypassRate = float64(summary.Routing.BypassCount) / float64(summary.Routing.RouteCount)
	}
	summary.Routing.TopBypassReasons = topReasons(bypassReasons, topNReasons)

	for _, v := range snap.Variance {
		if !v.Recorded {
			summary.Variance.SkippedCount++
			if v.Reason != "" {
				varianceSkipReasons[v.Reason]++
				if v.Reason == "qa_trust_low" {
					summary.Variance.QaTrustLowCount++
				}
			}
		}
	}
	summary.Variance.TopSkipReasons = topReasons(varianceSkipReasons, topNReasons)

	if snap.Meta != nil {
		if skipped, ok := snap.Meta["councilPlanningSkipped"].(bool); ok {
			summary.Governance.CouncilPlanningSkipped = skipped
		}
		if avg, ok := snap.Meta["avgQaQualityScore"].(float64); ok {
			summary.Quality.AvgQaQualityScore = avg
			summary.Quality.HasQualitySignal = true
		}
	}

	return summary
}

func topReasons(counts map[string]int, n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// KPIs is the output of AggregateKpis.
type KPIs struct {
	RunCount                   int
	TotalUSDPerRun             float64
	AvgBypassRate              float64
	AvgCouncilPlanningSkippedRate float64
	Trend *Trend
}

// Trend is the recent/older half-split comparison, populated only when
// at least 10 summaries are available.
type Trend struct {
	RecentAvgUSDPerRun float64
	OlderAvgUSDPerRun  float64
	RecentAvgBypassRate float64
	OlderAvgBypassRate  float64
}

const minSummariesForTrend = 10

// AggregateKpis implements spec.md §4.6's aggregateKpis.
func AggregateKpis(summaries []LedgerSummary) KPIs {
	kpis := KPIs{RunCount: len(summaries)}
	if len(summaries) == 0 {
		return kpis
	}

	var totalUSD, totalBypass, totalCouncilSkipped float64
	for _, s := range summaries {
		totalUSD += s.TotalUSD
		totalBypass += s.Routing.BypassRate
		if s.Governance.CouncilPlanningSkipped {
			totalCouncilSkipped++
		}
	}
	n := float64(len(summaries))
	kpis.TotalUSDPerRun = totalUSD / n
	kpis.AvgBypassRate = totalBypass / n
	kpis.AvgCouncilPlanningSkippedRate = totalCouncilSkipped / n

	if len(summaries) >= minSummariesForTrend {
		mid := len(summaries) / 2
		older := summaries[:mid]
		recent := summaries[mid:]
		kpis.Trend = &Trend{
			RecentAvgUSDPerRun:  avgUSD(recent),
			OlderAvgUSDPerRun:   avgUSD(older),
			RecentAvgBypassRate: avgBypass(recent),
			OlderAvgBypassRate:  avgBypass(older),
		}
	}
	return kpis
}

func avgUSD(s []LedgerSummary) float64 {
	if len(s) == 0 {
		return 0
	}
	var total float64
	for _, x := range s {
		total += x.TotalUSD
	}
	return total / float64(len(s))
}

func avgBypass(s []LedgerSummary) float64 {
	if len(s) == 0 {
		return 0
	}
	var total float64
	for _, x := range s {
		total += x.Routing.BypassRate
	}
	return total / float64(len(s))
}

// TuningProposal is a deterministic, hash-identified tuning
// recommendation.
type TuningProposal struct {
	ID             string
	Rule           string
	Action         string
	Details        map[string]interface{}
	SafeToAutoApply bool
}

func proposalID(action string, details map[string]interface{}) string {
	payload, _ := json.Marshal(details)
	sum := sha256.Sum256(append([]byte(action), payload...))
	return hex.EncodeToString(sum[:])[:16]
}

// GenerateTuningProposals applies the three deterministic rules of
// spec.md §4.6 against an aggregate KPI view plus the per-run summaries
// it was computed from.
func GenerateTuningProposals(kpis KPIs, summaries []LedgerSummary) []TuningProposal {
	var proposals []TuningProposal

	if p, ok := proposeSetPortfolioModePrefer(summaries); ok {
		proposals = append(proposals, p)
	}
	if p, ok := proposeRefreshPortfolio(summaries); ok {
		proposals = append(proposals, p)
	}
	if p, ok := proposeLowerMinPredictedQuality(summaries); ok {
		proposals = append(proposals, p)
	}
	return proposals
}

func proposeSetPortfolioModePrefer(summaries []LedgerSummary) (TuningProposal, bool) {
	lockSummaries := filterByMode(summaries, "lock")
	if len(lockSummaries) == 0 {
		return TuningProposal{}, false
	}
	avgBypass := avgBypass(lockSummaries)
	if avgBypass < 0.30 {
		return TuningProposal{}, false
	}
	reasonCounts := map[string]int{}
	total := 0
	for _, s := range lockSummaries {
		for _, rc := range s.Routing.TopBypassReasons {
			reasonCounts[rc.Reason] += rc.Count
			total += rc.Count
		}
	}
	if total == 0 {
		return TuningProposal{}, false
	}
	dominant := topReasons(reasonCounts, 1)
	if len(dominant) == 0 || dominant[0].Reason != "allowed_models_over_budget" {
		return TuningProposal{}, false
	}
	if float64(dominant[0].Count)/float64(total) < 0.50 {
		return TuningProposal{}, false
	}
	details := map[string]interface{}{"from": "lock", "to": "prefer"}
	return TuningProposal{
		ID: proposalID("set_portfolio_mode", details), Rule: "portfolio_lock_high_bypass",
		Action: "set_portfolio_mode", Details: details, SafeToAutoApply: true,
	}, true
}

func proposeRefreshPortfolio(summaries []LedgerSummary) (TuningProposal, bool) {
	if len(summaries) == 0 {
		return TuningProposal{}, false
	}
	var totalSkipped, totalQaTrustLow int
	for _, s := range summaries {
		totalSkipped += s.Variance.SkippedCount
		totalQaTrustLow += s.Variance.QaTrustLowCount
	}
	if totalSkipped == 0 {
		return TuningProposal{}, false
	}
	share := float64(totalQaTrustLow) / float64(totalSkipped)
	if share < 0.20 {
		return TuningProposal{}, false
	}
	details := map[string]interface{}{"forceRefresh": true}
	return TuningProposal{
		ID: proposalID("refresh_portfolio", details), Rule: "qa_trust_low_share",
		Action: "refresh_portfolio", Details: details, SafeToAutoApply: true,
	}, true
}

func proposeLowerMinPredictedQuality(summaries []LedgerSummary) (TuningProposal, bool) {
	reasonCounts := map[string]int{}
	total := 0
	var detPassSum float64
	detPassCount := 0
	for _, s := range summaries {
		for _, rc := range s.Routing.TopBypassReasons {
			reasonCounts[rc.Reason] += rc.Count
			total += rc.Count
		}
		if s.Quality.HasQualitySignal {
			detPassSum += s.Quality.AvgQaQualityScore
			detPassCount++
		}
	}
	if total == 0 || detPassCount == 0 {
		return TuningProposal{}, false
	}
	dominant := topReasons(reasonCounts, 1)
	if len(dominant) == 0 || dominant[0].Reason != "allowed_models_below_quality" {
		return TuningProposal{}, false
	}
	avgDetPass := detPassSum / float64(detPassCount)
	if avgDetPass < 0.70 {
		return TuningProposal{}, false
	}
	details := map[string]interface{}{"deltaDown": 0.02, "floor": 0.5}
	return TuningProposal{
		ID: proposalID("lower_minPredictedQuality", details), Rule: "below_quality_bypass_with_high_det_pass",
		Action: "lower_minPredictedQuality", Details: details, SafeToAutoApply: false,
	}, true
}

func filterByMode(summaries []LedgerSummary, mode string) []LedgerSummary {
	var out []LedgerSummary
	for _, s := range summaries {
		if s.Routing.PortfolioMode == mode {
			out = append(out, s)
		}
	}
	return out
}

// TuningConfig is the process-wide apply-policy gate and mutated state
// (spec.md §4.6 "Apply policy").
type TuningConfig struct {
	TuningEnabled   bool
	AllowAutoApply  bool
	MinPredictedQuality float64
	PortfolioMode       string
}

// CanApply reports whether a proposal may be auto-applied under cfg.
func CanApply(cfg TuningConfig, p TuningProposal) bool {
	return p.SafeToAutoApply && cfg.TuningEnabled && cfg.AllowAutoApply
}

// Apply mutates cfg according to p's action. Callers must have already
// checked CanApply (or obtained explicit manual approval).
func Apply(cfg *TuningConfig, p TuningProposal) error {
	switch p.Action {
	case "set_portfolio_mode":
		if to, ok := p.Details["to"].(string); ok {
			cfg.PortfolioMode = to
		}
	case "lower_minPredictedQuality":
		delta, _ := p.Details["deltaDown"].(float64)
		floor, _ := p.Details["floor"].(float64)
		next := cfg.MinPredictedQuality - delta
		if next < floor {
			next = floor
		}
		cfg.MinPredictedQuality = next
	case "refresh_portfolio":
		// handled by the caller invoking PortfolioCache.SetForceRefreshNext;
		// nothing to mutate in the tuning config itself.
	default:
		return errUnknownAction(p.Action)
	}
	return nil
}

type unknownActionError string

func (e unknownActionError) Error() string { return "analytics: unknown tuning action " + string(e) }

func errUnknownAction(action string) error { return unknownActionError(action) }
