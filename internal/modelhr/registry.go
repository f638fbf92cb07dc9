// Package modelhr is the Model HR subsystem: the governed registry of
// callable models, eligibility and scoring, observation-driven evaluation,
// canary promotion/demotion, provider-catalog recruiting and the
// human-approval actions queue (spec.md §4.1a/b/c).
package modelhr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/metrics"
	"github.com/netfryer/maestro/internal/modelhr/storage"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// Registry is the Model HR service. It owns a storage.Driver (file or db,
// selected by whoever constructs it) and never fails a caller when the
// driver errors — registry reads fall back to a small hard-coded set and
// writes are logged and dropped (I2).
type Registry struct {
	driver storage.Driver
	logger *zap.Logger
}

// New constructs a Registry over the given driver.
func New(driver storage.Driver, logger *zap.Logger) *Registry {
	return &Registry{driver: driver, logger: logger}
}

// ListModels returns registry entries matching filters. On a storage
// error it degrades to the fallback set rather than returning an error,
// since routing must always have something to consider.
func (r *Registry) ListModels(ctx context.Context, filters storage.Filters) []types.ModelRegistryEntry {
	entries, err := r.driver.ListModels(ctx, filters)
	if err != nil {
		r.logger.Warn("model-hr: ListModels failed, falling back to static set", zap.Error(err))
		metrics.RecordStorageOp("registry", "list_models", "error")
		return filterFallback(filters)
	}
	if len(entries) == 0 && !filters.IncludeDisabled {
		return filterFallback(filters)
	}
	metrics.RecordStorageOp("registry", "list_models", "ok")
	r.observeCounts(entries)
	return entries
}

func (r *Registry) observeCounts(entries []types.ModelRegistryEntry) {
	counts := map[types.Status]int{}
	for _, e := range entries {
		counts[e.Identity.Status]++
	}
	for status, n := range counts {
		metrics.RegistryModelsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func filterFallback(filters storage.Filters) []types.ModelRegistryEntry {
	var out []types.ModelRegistryEntry
	for _, e := range types.FallbackModels {
		if filters.Provider != "" && e.Identity.Provider != filters.Provider {
			continue
		}
		out = append(out, e)
	}
	if out == nil {
		return types.FallbackModels
	}
	return out
}

// GetModel resolves a single entry by canonical id, bare model id or
// alias, in that order.
func (r *Registry) GetModel(ctx context.Context, id string) (*types.ModelRegistryEntry, error) {
	entry, err := r.driver.GetModel(ctx, id)
	if err != nil {
		metrics.RecordStorageOp("registry", "get_model", "error")
		r.logger.Warn("model-hr: GetModel failed", zap.String("id", id), zap.Error(err))
		return nil, nil
	}
	metrics.RecordStorageOp("registry", "get_model", "ok")
	return entry, nil
}

// UpsertModel validates and writes a full registry entry. Storage write
// failures are logged and swallowed per I2: a run in progress must never
// fail because the registry could not persist a change.
func (r *Registry) UpsertModel(ctx context.Context, entry types.ModelRegistryEntry) error {
	if entry.ID == "" {
		entry.ID = types.CanonicalID(entry.Identity.Provider, entry.Identity.ModelID)
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	before, _ := r.driver.GetModel(ctx, entry.ID)
	if err := r.driver.UpsertModel(ctx, entry); err != nil {
		metrics.RecordStorageOp("registry", "upsert_model", "error")
		r.logger.Error("model-hr: UpsertModel failed, change dropped", zap.String("id", entry.ID), zap.Error(err))
		return nil
	}
	metrics.RecordStorageOp("registry", "upsert_model", "ok")
	if before != nil && before.Identity.Status != entry.Identity.Status {
		metrics.RegistryStatusTransitions.WithLabelValues(string(before.Identity.Status), string(entry.Identity.Status), "manual_upsert").Inc()
	}
	return nil
}

func validateEntry(entry types.ModelRegistryEntry) error {
	if entry.Identity.Provider == "" || entry.Identity.ModelID == "" {
		return fmt.Errorf("registry entry missing provider/modelId")
	}
	if entry.ID == "" {
		entry.ID = types.CanonicalID(entry.Identity.Provider, entry.Identity.ModelID)
	}
	if entry.ID != types.CanonicalID(entry.Identity.Provider, entry.Identity.ModelID) {
		return fmt.Errorf("registry entry id %q does not match canonical provider/modelId", entry.ID)
	}
	return nil
}

// DisableModel flips a model to disabled, emitting an HR signal. It is
// the terminal action triggered either by a resolved kill_switch HR
// action or by direct operator call.
func (r *Registry) DisableModel(ctx context.Context, id, reason string) error {
	entry, err := r.driver.GetModel(ctx, id)
	if err != nil || entry == nil {
		return fmt.Errorf("model %q not found", id)
	}
	prev := entry.Identity.Status
	entry.Identity.Status = types.StatusDisabled
	entry.Identity.DisabledReason = reason
	entry.Identity.DisabledAtISO = time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.driver.UpsertModel(ctx, *entry); err != nil {
		r.logger.Error("model-hr: DisableModel write failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	metrics.RegistryStatusTransitions.WithLabelValues(string(prev), string(types.StatusDisabled), reason).Inc()
	return r.driver.AppendSignal(ctx, types.HrSignal{
		ModelID:        id,
		PreviousStatus: string(prev),
		NewStatus:      string(types.StatusDisabled),
		Reason:         reason,
		TsISO:          entry.Identity.DisabledAtISO,
	})
}

// SetKillSwitch flips a model's Governance.KillSwitch gate, which
// eligibility checks ahead of (and independent from) the disabled-status
// gate (eligibility.go). Unlike DisableModel it does not touch
// Identity.Status: a kill-switched model can be un-switched without
// losing whatever status it held.
func (r *Registry) SetKillSwitch(ctx context.Context, id string, on bool, reason string) error {
	entry, err := r.driver.GetModel(ctx, id)
	if err != nil || entry == nil {
		return fmt.Errorf("model %q not found", id)
	}
	if entry.Governance.KillSwitch == on {
		return nil
	}
	entry.Governance.KillSwitch = on
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.driver.UpsertModel(ctx, *entry); err != nil {
		r.logger.Error("model-hr: SetKillSwitch write failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	newState := "kill_switch_off"
	if on {
		newState = "kill_switch_on"
	}
	metrics.RegistryStatusTransitions.WithLabelValues(string(entry.Identity.Status), newState, reason).Inc()
	return r.driver.AppendSignal(ctx, types.HrSignal{
		ModelID:        id,
		PreviousStatus: string(entry.Identity.Status),
		NewStatus:      newState,
		Reason:         reason,
		TsISO:          ts,
	})
}

// SetStatus transitions a model to newStatus, recording the transition as
// an HR signal. Used by evaluation/canary after a decision has already
// been approved (or, for probation, auto-applied per spec.md governance).
func (r *Registry) SetStatus(ctx context.Context, id string, newStatus types.Status, reason string) error {
	entry, err := r.driver.GetModel(ctx, id)
	if err != nil || entry == nil {
		return fmt.Errorf("model %q not found", id)
	}
	prev := entry.Identity.Status
	if prev == newStatus {
		return nil
	}
	entry.Identity.Status = newStatus
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if newStatus == types.StatusDisabled {
		entry.Identity.DisabledReason = reason
		entry.Identity.DisabledAtISO = ts
	}
	if err := r.driver.UpsertModel(ctx, *entry); err != nil {
		r.logger.Error("model-hr: SetStatus write failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	metrics.RegistryStatusTransitions.WithLabelValues(string(prev), string(newStatus), reason).Inc()
	return r.driver.AppendSignal(ctx, types.HrSignal{
		ModelID:        id,
		PreviousStatus: string(prev),
		NewStatus:      string(newStatus),
		Reason:         reason,
		TsISO:          ts,
	})
}
