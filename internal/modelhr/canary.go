package modelhr

import (
	"context"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

const (
	defaultProbationQuality   = 0.70
	defaultGraduateQuality    = 0.82
	defaultProbationFailCount = 2
)

// CanaryTask is one deterministic JSON-schema-checked task in the fixed
// canary suite (spec.md §4.1c names eight, spanning writing/code/analysis/
// general; the suite itself is supplied by callers so it can be swapped
// in tests without touching this package).
type CanaryTask struct {
	ID       string
	Category string // writing | code | analysis | general
}

// CanaryTaskResult is the outcome of running one candidate against one
// canary task.
type CanaryTaskResult struct {
	Task    CanaryTask
	Passed  bool
	Quality float64
}

// CanaryOutcome summarises a full suite run for the transition table.
type CanaryOutcome struct {
	Action types.HrActionKind
	Reason string
}

const (
	CanaryActionNone = "none"
	ReasonCanaryRegression = "canary_regression"
	ReasonCanaryGraduate   = "canary_graduate"
	ReasonNoChange         = "no_change"
)

// EvaluateSuiteForStatusChange applies the transition table of
// spec.md §4.1c to a completed canary run, honouring per-model threshold
// overrides.
func EvaluateSuiteForStatusChange(model types.ModelRegistryEntry, results []CanaryTaskResult) (action string, reason string) {
	probationQuality := defaultProbationQuality
	graduateQuality := defaultGraduateQuality
	probationFailCount := defaultProbationFailCount
	if t := model.Governance.CanaryThresholds; t != (types.CanaryThresholds{}) {
		if t.ProbationQuality > 0 {
			probationQuality = t.ProbationQuality
		}
		if t.GraduateQuality > 0 {
			graduateQuality = t.GraduateQuality
		}
		if t.ProbationFailCount > 0 {
			probationFailCount = t.ProbationFailCount
		}
	}

	failedCount := 0
	var qualitySum float64
	for _, r := range results {
		if !r.Passed {
			failedCount++
		}
		qualitySum += r.Quality
	}
	avgQuality := 0.0
	if len(results) > 0 {
		avgQuality = qualitySum / float64(len(results))
	}

	switch {
	case failedCount >= probationFailCount:
		return string(types.ActionProbation), ReasonCanaryRegression
	case failedCount < probationFailCount && avgQuality < probationQuality:
		return string(types.ActionProbation), ReasonCanaryRegression
	case failedCount == 0 && avgQuality >= graduateQuality:
		return string(types.ActionActivate), ReasonCanaryGraduate
	default:
		return CanaryActionNone, ReasonNoChange
	}
}

// ApplyCanaryOutcome transitions the model directly through SetStatus
// based on EvaluateSuiteForStatusChange; no HR action is enqueued, and a
// no-change outcome is a no-op.
func (r *Registry) ApplyCanaryOutcome(ctx context.Context, modelID string, action, reason string) {
	switch action {
	case string(types.ActionProbation):
		if err := r.SetStatus(ctx, modelID, types.StatusProbation, reason); err != nil {
			r.logger.Warn("model-hr: canary probation transition failed", zap.String("modelId", modelID), zap.Error(err))
		}
	case string(types.ActionActivate):
		if err := r.SetStatus(ctx, modelID, types.StatusActive, reason); err != nil {
			r.logger.Warn("model-hr: canary graduate transition failed", zap.String("modelId", modelID), zap.Error(err))
		}
	default:
		// no_change: nothing to apply
	}
}
