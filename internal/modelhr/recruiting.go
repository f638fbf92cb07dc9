package modelhr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/modelhr/storage"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// ProviderModelInput is the provider-catalog shape handed to
// ProcessProviderModel — a thin view of whatever a provider's model list
// endpoint returns, already normalised by the caller.
type ProviderModelInput struct {
	ModelID      string
	Pricing      types.Pricing
	Expertise    map[string]float64
	Reliability  float64
	Capabilities []string
	Guardrails   types.Guardrails
}

// ProcessProviderModelOptions tunes recruiting behaviour.
type ProcessProviderModelOptions struct {
	ForceActiveOverride bool
}

// DiffKind classifies how a recruited model compares to the existing
// registry entry.
type DiffKind string

const (
	DiffNew             DiffKind = "new"
	DiffPricingChanged  DiffKind = "pricing_changed"
	DiffMetadataChanged DiffKind = "metadata_changed"
	DiffUnchanged       DiffKind = "unchanged"
)

// ProcessProviderModel locates an existing entry by canonical id or raw
// modelId (same provider), classifies the diff, and applies the
// corresponding write (spec.md §4.1c). Returns the diff kind and the
// resulting entry's canonical id.
func (r *Registry) ProcessProviderModel(ctx context.Context, provider string, input ProviderModelInput, opts ProcessProviderModelOptions) (DiffKind, string) {
	canonicalID := types.CanonicalID(provider, input.ModelID)
	existing, _ := r.driver.GetModel(ctx, canonicalID)
	if existing == nil {
		all, err := r.driver.ListModels(ctx, storage.Filters{Provider: provider, IncludeDisabled: true})
		if err == nil {
			for i := range all {
				if all[i].Identity.Provider == provider && all[i].Identity.ModelID == input.ModelID {
					existing = &all[i]
					break
				}
			}
		}
	}

	if existing == nil {
		return r.recruitNew(ctx, provider, canonicalID, input, opts), canonicalID
	}

	kind, updated := diffExisting(*existing, input)
	switch kind {
	case DiffUnchanged:
		return DiffUnchanged, existing.ID
	default:
		updated.UpdatedAtISO = time.Now().UTC().Format(time.RFC3339Nano)
		if err := r.driver.UpsertModel(ctx, updated); err != nil {
			r.logger.Warn("model-hr: recruiting upsert failed", zap.String("id", updated.ID), zap.Error(err))
		}
		r.emitRecruitingSignal(ctx, updated.ID, string(existing.Identity.Status), string(updated.Identity.Status), string(kind))
		return kind, updated.ID
	}
}

func (r *Registry) recruitNew(ctx context.Context, provider, canonicalID string, input ProviderModelInput, opts ProcessProviderModelOptions) DiffKind {
	status := types.StatusProbation
	canary := types.CanaryNone
	reason := "model_created"
	if opts.ForceActiveOverride {
		status = types.StatusActive
		reason = "status_forced_override"
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	entry := types.ModelRegistryEntry{
		ID: canonicalID,
		Identity: types.Identity{
			Provider: provider,
			ModelID:  input.ModelID,
			Status:   status,
		},
		Pricing:        input.Pricing,
		Expertise:      input.Expertise,
		Reliability:    input.Reliability,
		Capabilities:   input.Capabilities,
		Guardrails:     input.Guardrails,
		EvaluationMeta: types.EvaluationMeta{CanaryStatus: canary},
		CreatedAtISO:   now,
		UpdatedAtISO:   now,
	}
	if err := r.driver.UpsertModel(ctx, entry); err != nil {
		r.logger.Warn("model-hr: recruiting new-model upsert failed", zap.String("id", canonicalID), zap.Error(err))
	}
	r.emitRecruitingSignal(ctx, canonicalID, "none", string(status), reason)
	return DiffNew
}

func diffExisting(existing types.ModelRegistryEntry, input ProviderModelInput) (DiffKind, types.ModelRegistryEntry) {
	pricingChanged := existing.Pricing != input.Pricing
	metadataChanged := existing.Reliability != input.Reliability ||
		!stringSlicesEqual(existing.Capabilities, input.Capabilities) ||
		!float64MapsEqual(existing.Expertise, input.Expertise) ||
		!guardrailsEqual(existing.Guardrails, input.Guardrails)

	updated := existing
	updated.Pricing = input.Pricing
	updated.Reliability = input.Reliability
	updated.Capabilities = input.Capabilities
	updated.Expertise = input.Expertise
	updated.Guardrails = input.Guardrails

	switch {
	case pricingChanged:
		return DiffPricingChanged, updated
	case metadataChanged:
		return DiffMetadataChanged, updated
	default:
		return DiffUnchanged, existing
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func guardrailsEqual(a, b types.Guardrails) bool {
	return a.SafetyCategory == b.SafetyCategory &&
		a.HighRiskFlag == b.HighRiskFlag &&
		stringSlicesEqual(a.RestrictedUseCases, b.RestrictedUseCases)
}

func float64MapsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func (r *Registry) emitRecruitingSignal(ctx context.Context, modelID, previousStatus, newStatus, reason string) {
	if err := r.driver.AppendSignal(ctx, types.HrSignal{
		ModelID:        modelID,
		PreviousStatus: previousStatus,
		NewStatus:      newStatus,
		Reason:         reason,
		TsISO:          time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		r.logger.Warn("model-hr: recruiting signal append failed", zap.String("modelId", modelID), zap.Error(err))
	}
}
