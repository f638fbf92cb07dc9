package modelhr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/metrics"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

const (
	minSampleCountForAutoProbation = 30
	maxSampleCountForConfidence    = 50

	ewmaAlpha = 0.2

	costMultiplierFloor   = 0.1
	costMultiplierCeiling = 20.0
)

// RecordObservation appends obs to the model's observation history,
// recomputes its (taskType,difficulty) performance prior via EWMA, and
// evaluates the auto-probation gate (spec.md §4.1c). Never returns an
// error to the caller — storage failures are logged and swallowed (I2).
func (r *Registry) RecordObservation(ctx context.Context, obs types.ModelObservation, observationsCap int) {
	if obs.TsISO == "" {
		obs.TsISO = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := r.driver.AppendObservation(ctx, obs, observationsCap); err != nil {
		r.logger.Warn("model-hr: AppendObservation failed", zap.String("modelId", obs.ModelID), zap.Error(err))
	}

	entry, err := r.driver.GetModel(ctx, obs.ModelID)
	if err != nil || entry == nil {
		r.logger.Warn("model-hr: RecordObservation could not load model for prior update", zap.String("modelId", obs.ModelID))
		return
	}

	prior := r.updatePrior(*entry, obs)
	r.maybeAutoProbation(ctx, *entry, prior)
}

// updatePrior recomputes (or creates) the prior slice entry for
// (obs.TaskType, obs.Difficulty) using an EWMA on quality and a clamped
// cost-ratio EWMA for the cost multiplier, then persists the slice.
func (r *Registry) updatePrior(entry types.ModelRegistryEntry, obs types.ModelObservation) types.PerformancePrior {
	var existing *types.PerformancePrior
	idx := -1
	for i := range entry.PerformancePriors {
		if entry.PerformancePriors[i].TaskType == obs.TaskType && entry.PerformancePriors[i].Difficulty == obs.Difficulty {
			existing = &entry.PerformancePriors[i]
			idx = i
			break
		}
	}

	var prior types.PerformancePrior
	if existing != nil {
		prior = *existing
	} else {
		prior = types.PerformancePrior{TaskType: obs.TaskType, Difficulty: obs.Difficulty, QualityPrior: obs.ActualQuality, CostMultiplier: 1.0}
	}

	costRatio := 1.0
	if obs.PredictedCostUSD > 0 {
		costRatio = obs.ActualCostUSD / obs.PredictedCostUSD
	}
	if costRatio < costMultiplierFloor {
		costRatio = costMultiplierFloor
	}
	if costRatio > costMultiplierCeiling {
		costRatio = costMultiplierCeiling
	}

	if prior.SampleCount == 0 {
		prior.QualityPrior = obs.ActualQuality
		prior.CostMultiplier = costRatio
	} else {
		prior.QualityPrior = ewmaAlpha*obs.ActualQuality + (1-ewmaAlpha)*prior.QualityPrior
		prior.CostMultiplier = ewmaAlpha*costRatio + (1-ewmaAlpha)*prior.CostMultiplier
	}
	prior.SampleCount++
	prior.CalibrationConfidence = float64(prior.SampleCount) / float64(maxSampleCountForConfidence)
	if prior.CalibrationConfidence > 1 {
		prior.CalibrationConfidence = 1
	}
	prior.LastUpdatedISO = time.Now().UTC().Format(time.RFC3339Nano)

	if idx >= 0 {
		entry.PerformancePriors[idx] = prior
	} else {
		entry.PerformancePriors = append(entry.PerformancePriors, prior)
	}

	if err := r.driver.SavePriors(context.Background(), entry.ID, entry.PerformancePriors); err != nil {
		r.logger.Warn("model-hr: SavePriors failed", zap.String("modelId", entry.ID), zap.Error(err))
	}
	if err := r.driver.UpsertModel(context.Background(), entry); err != nil {
		r.logger.Warn("model-hr: persisting updated priors on entry failed", zap.String("modelId", entry.ID), zap.Error(err))
	}
	return prior
}

// maybeAutoProbation triggers probation (or, if auto-disable is turned
// off, only enqueues a pending HR action) once a prior has enough
// samples and either its quality or cost-variance crosses governance
// thresholds.
func (r *Registry) maybeAutoProbation(ctx context.Context, entry types.ModelRegistryEntry, prior types.PerformancePrior) {
	if prior.SampleCount < minSampleCountForAutoProbation {
		return
	}
	if entry.Identity.Status != types.StatusActive {
		return
	}

	qualityBreach := entry.Governance.MinQualityPrior > 0 && prior.QualityPrior < entry.Governance.MinQualityPrior
	costBreach := entry.Governance.MaxCostVarianceRatio > 0 && prior.CostMultiplier > entry.Governance.MaxCostVarianceRatio
	if !qualityBreach && !costBreach {
		return
	}

	reason := "auto_probation_quality"
	if costBreach && !qualityBreach {
		reason = "auto_probation_cost_variance"
	} else if costBreach && qualityBreach {
		reason = "auto_probation_quality_and_cost"
	}

	if entry.Governance.DisableAutoDisable {
		r.enqueueActionInternal(ctx, entry.ID, types.ActionProbation, reason, "evaluation")
		return
	}

	if err := r.SetStatus(ctx, entry.ID, types.StatusProbation, reason); err != nil {
		r.logger.Warn("model-hr: auto-probation transition failed", zap.String("modelId", entry.ID), zap.Error(err))
		return
	}
	metrics.HrActionsQueued.WithLabelValues(string(types.ActionProbation)).Inc()
}
