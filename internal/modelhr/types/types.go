// Package types holds the Model HR data model shared by the registry,
// storage drivers, eligibility/scoring, evaluation and the actions queue.
package types

import "time"

// Status is a registry entry's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusProbation  Status = "probation"
	StatusDeprecated Status = "deprecated"
	StatusDisabled   Status = "disabled"
)

// TierProfile constrains which models may be chosen and the cost penalty
// thresholds applied during scoring.
type TierProfile string

const (
	TierCheap    TierProfile = "cheap"
	TierStandard TierProfile = "standard"
	TierPremium  TierProfile = "premium"
)

// CanaryStatus tracks where a model sits in the canary evaluation pipeline.
type CanaryStatus string

const (
	CanaryNone    CanaryStatus = "none"
	CanaryRunning CanaryStatus = "running"
	CanaryPassed  CanaryStatus = "passed"
	CanaryFailed  CanaryStatus = "failed"
)

// Identity is the provider/model pair and lifecycle status.
type Identity struct {
	Provider       string `json:"provider"`
	ModelID        string `json:"modelId"`
	Status         Status `json:"status"`
	Aliases        []string `json:"aliases,omitempty"`
	DisabledReason string `json:"disabledReason,omitempty"`
	DisabledAtISO  string `json:"disabledAtISO,omitempty"`
}

// Pricing is USD per 1,000 tokens, input/output split.
type Pricing struct {
	InPer1K      float64 `json:"inPer1k"`
	OutPer1K     float64 `json:"outPer1k"`
	Currency     string  `json:"currency"`
	MinChargeUSD float64 `json:"minChargeUSD,omitempty"`
	RoundingRule string  `json:"roundingRule,omitempty"`
}

// Guardrails captures safety classification for a model.
type Guardrails struct {
	SafetyCategory     string   `json:"safetyCategory"` // e.g. "standard" | "restricted"
	RestrictedUseCases []string `json:"restrictedUseCases,omitempty"`
	HighRiskFlag       bool     `json:"highRiskFlag,omitempty"`
}

// CanaryThresholds overrides the default canary evaluation thresholds for
// a single model.
type CanaryThresholds struct {
	ProbationQuality   float64 `json:"probationQuality,omitempty"`
	GraduateQuality    float64 `json:"graduateQuality,omitempty"`
	ProbationFailCount int     `json:"probationFailCount,omitempty"`
}

// Governance holds the policy knobs consulted by isEligible and the
// evaluation service's auto-probation logic.
type Governance struct {
	AllowedTiers        []TierProfile    `json:"allowedTiers,omitempty"`
	BlockedProviders    []string         `json:"blockedProviders,omitempty"`
	BlockedTaskTypes    []string         `json:"blockedTaskTypes,omitempty"`
	KillSwitch          bool             `json:"killSwitch,omitempty"`
	MaxCostVarianceRatio float64         `json:"maxCostVarianceRatio,omitempty"`
	MinQualityPrior     float64          `json:"minQualityPrior,omitempty"`
	CanaryThresholds    CanaryThresholds `json:"canaryThresholds,omitempty"`
	DisableAutoDisable  bool             `json:"disableAutoDisable,omitempty"`
	EligibilityRules    EligibilityRules `json:"eligibilityRules,omitempty"`
}

// EligibilityRules are the budget/importance gates in isEligible step 9.
type EligibilityRules struct {
	WhenBudgetAboveMinUSD       float64 `json:"whenBudgetAboveMinUSD,omitempty"`
	WhenImportanceBelowMaxImportance float64 `json:"whenImportanceBelowMaxImportance,omitempty"`
}

// PerformancePrior is a per-(taskType,difficulty) EWMA of quality and cost.
type PerformancePrior struct {
	TaskType              string    `json:"taskType"`
	Difficulty            string    `json:"difficulty"`
	QualityPrior          float64   `json:"qualityPrior"`
	CostMultiplier        float64   `json:"costMultiplier"`
	CalibrationConfidence float64   `json:"calibrationConfidence"`
	VarianceBandLow       *float64  `json:"varianceBandLow,omitempty"`
	VarianceBandHigh      *float64  `json:"varianceBandHigh,omitempty"`
	SampleCount           int       `json:"sampleCount"`
	LastUpdatedISO        string    `json:"lastUpdatedISO"`
	DefectRate            *float64  `json:"defectRate,omitempty"`
}

// EvaluationMeta tracks canary evaluation progress for a model.
type EvaluationMeta struct {
	CanaryStatus CanaryStatus `json:"canaryStatus"`
}

// ModelRegistryEntry is the governed registry record (spec.md §3).
type ModelRegistryEntry struct {
	ID              string                      `json:"id"` // canonical "<provider>/<modelId>"
	Identity        Identity                    `json:"identity"`
	Pricing         Pricing                     `json:"pricing"`
	Expertise       map[string]float64          `json:"expertise,omitempty"`
	Reliability     float64                     `json:"reliability"`
	Capabilities    []string                    `json:"capabilities,omitempty"`
	Guardrails      Guardrails                  `json:"guardrails"`
	Governance      Governance                  `json:"governance"`
	PerformancePriors []PerformancePrior        `json:"performancePriors,omitempty"`
	EvaluationMeta  EvaluationMeta              `json:"evaluationMeta"`
	CreatedAtISO    string                      `json:"createdAtISO"`
	UpdatedAtISO    string                      `json:"updatedAtISO"`
}

// CanonicalID returns "<provider>/<modelId>".
func CanonicalID(provider, modelID string) string {
	return provider + "/" + modelID
}

// ModelObservation is appended after every execution of a model.
type ModelObservation struct {
	ModelID                string  `json:"modelId"`
	TaskType               string  `json:"taskType"`
	Difficulty             string  `json:"difficulty"`
	ActualCostUSD          float64 `json:"actualCostUSD"`
	PredictedCostUSD       float64 `json:"predictedCostUSD"`
	ActualQuality          float64 `json:"actualQuality"`
	PredictedQuality       float64 `json:"predictedQuality"`
	TsISO                  string  `json:"tsISO"`
	RunSessionID           string  `json:"runSessionId,omitempty"`
	PackageID              string  `json:"packageId,omitempty"`
	DefectCount            int     `json:"defectCount,omitempty"`
	QAMode                 string  `json:"qaMode,omitempty"` // deterministic | llm | hybrid
	DeterministicNoSignal  bool    `json:"deterministicNoSignal,omitempty"`
	BudgetGated            bool    `json:"budgetGated,omitempty"`
}

// HrSignal is emitted on any governance-relevant status change.
type HrSignal struct {
	ModelID        string `json:"modelId"`
	PreviousStatus string `json:"previousStatus"`
	NewStatus      string `json:"newStatus"`
	Reason         string `json:"reason"`
	TsISO          string `json:"tsISO"`
	Context        string `json:"context,omitempty"`
}

// HrActionKind enumerates the actions the HR queue can recommend.
type HrActionKind string

const (
	ActionProbation  HrActionKind = "probation"
	ActionDisable    HrActionKind = "disable"
	ActionActivate   HrActionKind = "activate"
	ActionKillSwitch HrActionKind = "kill_switch"
)

// HrAction is a pending or resolved human-approval record.
type HrAction struct {
	ID             string       `json:"id"`
	ModelID        string       `json:"modelId"`
	Action         HrActionKind `json:"action"`
	Reason         string       `json:"reason"`
	RecommendedBy  string       `json:"recommendedBy"` // evaluation | ops
	Approved       *bool        `json:"approved,omitempty"`
	ApprovedBy     string       `json:"approvedBy,omitempty"`
	RejectedBy     string       `json:"rejectedBy,omitempty"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	TsISO          string       `json:"tsISO"`
}

// Resolved reports whether the action has been approved or rejected.
func (a HrAction) Resolved() bool {
	return a.Approved != nil
}

// EligibilityCtx is the context passed to isEligible and computeModelScore.
type EligibilityCtx struct {
	TaskType           string
	Difficulty         string
	TierProfile        TierProfile
	BudgetRemainingUSD float64
	Importance         *float64
	UseCaseTags        []string
	BlockedProviders   []string
}

// EligibilityResult is the outcome of isEligible.
type EligibilityResult struct {
	Eligible bool
	Reason   string // machine-readable reason code when ineligible
	Detail   string // human-readable detail (used for the "deprecated" warning too)
}

// ScoreBreakdown is the explainable result of computeModelScore.
type ScoreBreakdown struct {
	FinalScore          float64 `json:"finalScore"`
	BaseReliability     float64 `json:"baseReliability"`
	ExpertiseComponent  float64 `json:"expertiseComponent"`
	PriorQualityComponent float64 `json:"priorQualityComponent"`
	StatusPenalty       float64 `json:"statusPenalty"`
	CostPenalty         float64 `json:"costPenalty"`
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }
