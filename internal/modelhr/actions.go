package modelhr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/metrics"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// EnqueueAction writes a pending HR action record for human approval.
func (r *Registry) EnqueueAction(ctx context.Context, modelID string, action types.HrActionKind, reason, recommendedBy string) (string, error) {
	id := r.enqueueActionInternal(ctx, modelID, action, reason, recommendedBy)
	return id, nil
}

func (r *Registry) enqueueActionInternal(ctx context.Context, modelID string, action types.HrActionKind, reason, recommendedBy string) string {
	a := types.HrAction{
		ID:            uuid.NewString(),
		ModelID:       modelID,
		Action:        action,
		Reason:        reason,
		RecommendedBy: recommendedBy,
		TsISO:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := r.driver.EnqueueAction(ctx, a); err != nil {
		r.logger.Warn("model-hr: EnqueueAction failed", zap.String("modelId", modelID), zap.Error(err))
	}
	metrics.HrActionsQueued.WithLabelValues(string(action)).Inc()
	return a.ID
}

// ApproveAction applies the pending action's status change and marks it
// resolved. Idempotent per I5: a second approve call returns success
// with the first approver's name, rather than erroring.
func (r *Registry) ApproveAction(ctx context.Context, id, approvedBy string) (*types.HrAction, error) {
	a, err := r.driver.GetAction(ctx, id)
	if err != nil || a == nil {
		return nil, fmt.Errorf("hr action %q not found", id)
	}
	if a.Resolved() {
		return a, nil
	}

	approved := true
	a.Approved = &approved
	a.ApprovedBy = approvedBy

	if err := r.applyAction(ctx, *a); err != nil {
		r.logger.Warn("model-hr: applying approved HR action failed", zap.String("id", id), zap.Error(err))
	}

	if err := r.driver.SaveAction(ctx, *a); err != nil {
		r.logger.Warn("model-hr: SaveAction after approve failed", zap.String("id", id), zap.Error(err))
	}
	metrics.HrActionsResolved.WithLabelValues(string(a.Action), "approved").Inc()
	return a, nil
}

// RejectAction marks a pending action resolved without applying it.
// Idempotent per I5.
func (r *Registry) RejectAction(ctx context.Context, id, rejectedBy, reason string) (*types.HrAction, error) {
	a, err := r.driver.GetAction(ctx, id)
	if err != nil || a == nil {
		return nil, fmt.Errorf("hr action %q not found", id)
	}
	if a.Resolved() {
		return a, nil
	}

	approved := false
	a.Approved = &approved
	a.RejectedBy = rejectedBy
	a.RejectionReason = reason

	if err := r.driver.SaveAction(ctx, *a); err != nil {
		r.logger.Warn("model-hr: SaveAction after reject failed", zap.String("id", id), zap.Error(err))
	}
	metrics.HrActionsResolved.WithLabelValues(string(a.Action), "rejected").Inc()
	return a, nil
}

func (r *Registry) applyAction(ctx context.Context, a types.HrAction) error {
	switch a.Action {
	case types.ActionProbation:
		return r.SetStatus(ctx, a.ModelID, types.StatusProbation, a.Reason)
	case types.ActionDisable:
		return r.DisableModel(ctx, a.ModelID, a.Reason)
	case types.ActionKillSwitch:
		return r.SetKillSwitch(ctx, a.ModelID, true, a.Reason)
	case types.ActionActivate:
		return r.SetStatus(ctx, a.ModelID, types.StatusActive, a.Reason)
	default:
		return fmt.Errorf("unknown hr action kind %q", a.Action)
	}
}

// ListActions returns up to limit actions, most recent first. Pending
// records are kept indefinitely; resolved entries older than
// retentionDays are trimmed lazily on read.
func (r *Registry) ListActions(ctx context.Context, limit int, retentionDays int) []types.HrAction {
	if err := r.driver.TrimResolvedActions(ctx, retentionDays); err != nil {
		r.logger.Warn("model-hr: TrimResolvedActions failed", zap.Error(err))
	}
	actions, err := r.driver.ListActions(ctx, limit)
	if err != nil {
		r.logger.Warn("model-hr: ListActions failed", zap.Error(err))
		return nil
	}
	return actions
}
