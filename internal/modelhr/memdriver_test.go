package modelhr

import (
	"context"
	"sync"

	"github.com/netfryer/maestro/internal/modelhr/storage"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// memDriver is an in-memory storage.Driver used across this package's
// tests so Registry methods can be exercised without a real file or db
// backend.
type memDriver struct {
	mu           sync.Mutex
	models       map[string]types.ModelRegistryEntry
	observations map[string][]types.ModelObservation
	priors       map[string][]types.PerformancePrior
	signals      []types.HrSignal
	fallbacks    []string
	actions      map[string]types.HrAction
}

func newMemDriver() *memDriver {
	return &memDriver{
		models:       make(map[string]types.ModelRegistryEntry),
		observations: make(map[string][]types.ModelObservation),
		priors:       make(map[string][]types.PerformancePrior),
		actions:      make(map[string]types.HrAction),
	}
}

func (d *memDriver) ListModels(ctx context.Context, f storage.Filters) ([]types.ModelRegistryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []types.ModelRegistryEntry
	for _, m := range d.models {
		if f.Provider != "" && m.Identity.Provider != f.Provider {
			continue
		}
		if !f.IncludeDisabled && m.Identity.Status == types.StatusDisabled {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *memDriver) GetModel(ctx context.Context, id string) (*types.ModelRegistryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.models[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (d *memDriver) UpsertModel(ctx context.Context, entry types.ModelRegistryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.models[entry.ID] = entry
	return nil
}

func (d *memDriver) UpsertModelReplacing(ctx context.Context, entry types.ModelRegistryEntry, oldID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.models, oldID)
	d.models[entry.ID] = entry
	return nil
}

func (d *memDriver) DeleteModel(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.models, id)
	return nil
}

func (d *memDriver) AppendObservation(ctx context.Context, obs types.ModelObservation, cap int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := append(d.observations[obs.ModelID], obs)
	if cap > 0 && len(list) > cap {
		list = list[len(list)-cap:]
	}
	d.observations[obs.ModelID] = list
	return nil
}

func (d *memDriver) ListObservations(ctx context.Context, modelID string) ([]types.ModelObservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observations[modelID], nil
}

func (d *memDriver) SavePriors(ctx context.Context, modelID string, priors []types.PerformancePrior) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.priors[modelID] = priors
	return nil
}

func (d *memDriver) LoadPriors(ctx context.Context, modelID string) ([]types.PerformancePrior, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priors[modelID], nil
}

func (d *memDriver) AppendSignal(ctx context.Context, sig types.HrSignal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = append(d.signals, sig)
	return nil
}

func (d *memDriver) ListSignals(ctx context.Context, retentionDays int) ([]types.HrSignal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signals, nil
}

func (d *memDriver) AppendFallbackEvent(ctx context.Context, tsISO string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbacks = append(d.fallbacks, tsISO)
	return nil
}

func (d *memDriver) FallbackCount24h(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fallbacks), nil
}

func (d *memDriver) EnqueueAction(ctx context.Context, a types.HrAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[a.ID] = a
	return nil
}

func (d *memDriver) ListActions(ctx context.Context, limit int) ([]types.HrAction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []types.HrAction
	for _, a := range d.actions {
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (d *memDriver) GetAction(ctx context.Context, id string) (*types.HrAction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.actions[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (d *memDriver) SaveAction(ctx context.Context, a types.HrAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[a.ID] = a
	return nil
}

func (d *memDriver) TrimResolvedActions(ctx context.Context, retentionDays int) error {
	return nil
}
