// Package storage implements the Model HR persistence abstraction: one
// interface, two interchangeable drivers (file, db) selected once at
// process start by the PERSISTENCE_DRIVER env var (spec.md §4.1a, §6,
// §9 "dynamic dispatch over storage/persistence drivers").
package storage

import (
	"context"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

// Filters narrows listModels (spec.md §4.1a).
type Filters struct {
	Status          []types.Status
	Provider        string
	Tiers           []types.TierProfile
	TaskType        string
	IncludeDisabled bool
}

// Driver is the Model HR persistence capability interface. Every method is
// best-effort: storage-layer failures never fail a caller (I2) — read
// errors degrade to an empty result with a non-nil error the caller logs
// and swallows, writes return an error the caller logs and swallows.
type Driver interface {
	ListModels(ctx context.Context, f Filters) ([]types.ModelRegistryEntry, error)
	GetModel(ctx context.Context, id string) (*types.ModelRegistryEntry, error)
	UpsertModel(ctx context.Context, entry types.ModelRegistryEntry) error
	UpsertModelReplacing(ctx context.Context, entry types.ModelRegistryEntry, oldID string) error
	DeleteModel(ctx context.Context, id string) error

	AppendObservation(ctx context.Context, obs types.ModelObservation, cap int) error
	ListObservations(ctx context.Context, modelID string) ([]types.ModelObservation, error)

	SavePriors(ctx context.Context, modelID string, priors []types.PerformancePrior) error
	LoadPriors(ctx context.Context, modelID string) ([]types.PerformancePrior, error)

	AppendSignal(ctx context.Context, sig types.HrSignal) error
	ListSignals(ctx context.Context, retentionDays int) ([]types.HrSignal, error)

	AppendFallbackEvent(ctx context.Context, tsISO string) error
	FallbackCount24h(ctx context.Context) (int, error)

	EnqueueAction(ctx context.Context, a types.HrAction) error
	ListActions(ctx context.Context, limit int) ([]types.HrAction, error)
	GetAction(ctx context.Context, id string) (*types.HrAction, error)
	SaveAction(ctx context.Context, a types.HrAction) error
	TrimResolvedActions(ctx context.Context, retentionDays int) error
}
