package modelhr

import (
	"context"
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

func TestProcessProviderModel_NewModelStartsInProbation(t *testing.T) {
	r, d := newTestRegistry()
	kind, id := r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{
		ModelID: "gpt-4o", Pricing: types.Pricing{InPer1K: 0.0025, OutPer1K: 0.01, Currency: "USD"},
	}, ProcessProviderModelOptions{})

	if kind != DiffNew {
		t.Errorf("kind = %v, want DiffNew", kind)
	}
	got := d.models[id]
	if got.Identity.Status != types.StatusProbation {
		t.Errorf("expected new model to start in probation, got %v", got.Identity.Status)
	}
	if len(d.signals) != 1 || d.signals[0].Reason != "model_created" {
		t.Errorf("got %+v", d.signals)
	}
	if d.signals[0].PreviousStatus != "none" || d.signals[0].NewStatus != string(types.StatusProbation) {
		t.Errorf("expected previousStatus=none newStatus=probation, got %+v", d.signals[0])
	}
}

func TestProcessProviderModel_ForceActiveOverride(t *testing.T) {
	r, d := newTestRegistry()
	_, id := r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{ModelID: "gpt-4o"}, ProcessProviderModelOptions{ForceActiveOverride: true})
	if d.models[id].Identity.Status != types.StatusActive {
		t.Errorf("expected forced-active status, got %v", d.models[id].Identity.Status)
	}
}

func TestProcessProviderModel_PricingChangeDetected(t *testing.T) {
	r, _ := newTestRegistry()
	r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{
		ModelID: "gpt-4o", Pricing: types.Pricing{InPer1K: 0.0025, OutPer1K: 0.01, Currency: "USD"},
	}, ProcessProviderModelOptions{})

	kind, _ := r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{
		ModelID: "gpt-4o", Pricing: types.Pricing{InPer1K: 0.003, OutPer1K: 0.012, Currency: "USD"},
	}, ProcessProviderModelOptions{})

	if kind != DiffPricingChanged {
		t.Errorf("kind = %v, want DiffPricingChanged", kind)
	}
}

func TestProcessProviderModel_MetadataChangeDetected(t *testing.T) {
	r, _ := newTestRegistry()
	r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{
		ModelID: "gpt-4o", Reliability: 0.9,
	}, ProcessProviderModelOptions{})

	kind, _ := r.ProcessProviderModel(context.Background(), "openai", ProviderModelInput{
		ModelID: "gpt-4o", Reliability: 0.95,
	}, ProcessProviderModelOptions{})

	if kind != DiffMetadataChanged {
		t.Errorf("kind = %v, want DiffMetadataChanged", kind)
	}
}

func TestProcessProviderModel_UnchangedProducesNoSignal(t *testing.T) {
	r, d := newTestRegistry()
	input := ProviderModelInput{ModelID: "gpt-4o", Reliability: 0.9, Pricing: types.Pricing{InPer1K: 0.0025, OutPer1K: 0.01, Currency: "USD"}}
	r.ProcessProviderModel(context.Background(), "openai", input, ProcessProviderModelOptions{})
	before := len(d.signals)

	kind, _ := r.ProcessProviderModel(context.Background(), "openai", input, ProcessProviderModelOptions{})
	if kind != DiffUnchanged {
		t.Errorf("kind = %v, want DiffUnchanged", kind)
	}
	if len(d.signals) != before {
		t.Errorf("expected no additional signal for an unchanged diff, got %d new", len(d.signals)-before)
	}
}

func TestDiffExisting_GuardrailsChangeIsMetadataChanged(t *testing.T) {
	existing := types.ModelRegistryEntry{
		Reliability: 0.9,
		Guardrails:  types.Guardrails{SafetyCategory: "standard"},
	}
	input := ProviderModelInput{Reliability: 0.9, Guardrails: types.Guardrails{SafetyCategory: "restricted"}}
	kind, _ := diffExisting(existing, input)
	if kind != DiffMetadataChanged {
		t.Errorf("kind = %v, want DiffMetadataChanged", kind)
	}
}
