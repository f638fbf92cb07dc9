package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

// sanitizeFilename keeps only [A-Za-z0-9_-], replacing everything else with
// "_" (spec.md §4.1a).
func sanitizeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FileDriver persists the registry as models.json plus one observations/
// priors file per model and three append-only JSONL logs (signals,
// actions, registry fallback events), under a data
// directory (spec.md §4.1a). It is safe for concurrent use: a single
// mutex guards every read-modify-write, matching the single-writer
// discipline spec.md §5 asks of the registry's storage layer.
type FileDriver struct {
	mu      sync.Mutex
	dataDir string
	logger  *zap.Logger
}

// NewFileDriver creates a file-backed driver rooted at dataDir, creating
// the directory tree if needed.
func NewFileDriver(dataDir string, logger *zap.Logger) (*FileDriver, error) {
	for _, sub := range []string{"", "observations", "priors"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &FileDriver{dataDir: dataDir, logger: logger}, nil
}

func (d *FileDriver) modelsPath() string     { return filepath.Join(d.dataDir, "models.json") }
func (d *FileDriver) signalsPath() string    { return filepath.Join(d.dataDir, "signals.jsonl") }
func (d *FileDriver) actionsPath() string    { return filepath.Join(d.dataDir, "actions.jsonl") }
func (d *FileDriver) fallbackPath() string   { return filepath.Join(d.dataDir, "registry-fallback.jsonl") }
func (d *FileDriver) obsPath(id string) string {
	return filepath.Join(d.dataDir, "observations", sanitizeFilename(id)+".json")
}
func (d *FileDriver) priorsPath(id string) string {
	return filepath.Join(d.dataDir, "priors", sanitizeFilename(id)+".json")
}

func (d *FileDriver) readModelsLocked() []types.ModelRegistryEntry {
	data, err := os.ReadFile(d.modelsPath())
	if err != nil {
		return nil
	}
	var entries []types.ModelRegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		d.logger.Warn("model-hr: models.json unmarshal failed, degrading to empty", zap.Error(err))
		return nil
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID == "" || e.Identity.Provider == "" || e.Identity.ModelID == "" {
			d.logger.Warn("model-hr: skipping invalid entry", zap.String("id", e.ID))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (d *FileDriver) writeModelsLocked(entries []types.ModelRegistryEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.modelsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.modelsPath())
}

// ListModels implements Driver.
func (d *FileDriver) ListModels(ctx context.Context, f Filters) ([]types.ModelRegistryEntry, error) {
	d.mu.Lock()
	entries := d.readModelsLocked()
	d.mu.Unlock()

	var out []types.ModelRegistryEntry
	for _, e := range entries {
		if !f.IncludeDisabled && e.Identity.Status == types.StatusDisabled {
			continue
		}
		if len(f.Status) > 0 && !containsStatus(f.Status, e.Identity.Status) {
			continue
		}
		if f.Provider != "" && e.Identity.Provider != f.Provider {
			continue
		}
		if len(f.Tiers) > 0 && len(e.Governance.AllowedTiers) > 0 && !intersectsTiers(e.Governance.AllowedTiers, f.Tiers) {
			continue
		}
		if f.TaskType != "" {
			if _, ok := e.Expertise[f.TaskType]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus(list []types.Status, s types.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func intersectsTiers(a, b []types.TierProfile) bool {
	set := make(map[types.TierProfile]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if set[t] {
			return true
		}
	}
	return false
}

// GetModel implements Driver: resolves canonical id, then raw modelId, then aliases.
func (d *FileDriver) GetModel(ctx context.Context, id string) (*types.ModelRegistryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.readModelsLocked()
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	for i := range entries {
		if entries[i].Identity.ModelID == id {
			return &entries[i], nil
		}
	}
	for i := range entries {
		for _, alias := range entries[i].Identity.Aliases {
			if alias == id {
				return &entries[i], nil
			}
		}
	}
	return nil, nil
}

// UpsertModel implements Driver.
func (d *FileDriver) UpsertModel(ctx context.Context, entry types.ModelRegistryEntry) error {
	if entry.ID == "" || entry.Identity.Provider == "" || entry.Identity.ModelID == "" {
		d.logger.Warn("model-hr: dropping write, invalid entry", zap.String("id", entry.ID))
		return fmt.Errorf("invalid entry: missing id/provider/modelId")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.readModelsLocked()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	entry.UpdatedAtISO = now
	found := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entry.CreatedAtISO = entries[i].CreatedAtISO
			entries[i] = entry
			found = true
			break
		}
	}
	if !found {
		if entry.CreatedAtISO == "" {
			entry.CreatedAtISO = now
		}
		entries = append(entries, entry)
	}
	return d.writeModelsLocked(entries)
}

// UpsertModelReplacing implements Driver: atomic replace under a canonical-id migration.
func (d *FileDriver) UpsertModelReplacing(ctx context.Context, entry types.ModelRegistryEntry, oldID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.readModelsLocked()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	entry.UpdatedAtISO = now
	if entry.CreatedAtISO == "" {
		entry.CreatedAtISO = now
	}
	out := entries[:0]
	replaced := false
	for _, e := range entries {
		if e.ID == oldID {
			out = append(out, entry)
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, entry)
	}
	return d.writeModelsLocked(out)
}

// DeleteModel implements Driver (manual registry edit, spec.md §3 ownership note).
func (d *FileDriver) DeleteModel(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.readModelsLocked()
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return d.writeModelsLocked(out)
}

// AppendObservation implements Driver, enforcing a hard per-model cap.
func (d *FileDriver) AppendObservation(ctx context.Context, obs types.ModelObservation, cap int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.readObservationsLocked(obs.ModelID)
	list = append(list, obs)
	if cap > 0 && len(list) > cap {
		list = list[len(list)-cap:]
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return os.WriteFile(d.obsPath(obs.ModelID), data, 0o644)
}

func (d *FileDriver) readObservationsLocked(modelID string) []types.ModelObservation {
	data, err := os.ReadFile(d.obsPath(modelID))
	if err != nil {
		return nil
	}
	var list []types.ModelObservation
	if err := json.Unmarshal(data, &list); err != nil {
		d.logger.Warn("model-hr: observations file unmarshal failed, degrading to empty", zap.Error(err))
		return nil
	}
	return list
}

// ListObservations implements Driver.
func (d *FileDriver) ListObservations(ctx context.Context, modelID string) ([]types.ModelObservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readObservationsLocked(modelID), nil
}

// SavePriors implements Driver.
func (d *FileDriver) SavePriors(ctx context.Context, modelID string, priors []types.PerformancePrior) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := json.Marshal(priors)
	if err != nil {
		return err
	}
	return os.WriteFile(d.priorsPath(modelID), data, 0o644)
}

// LoadPriors implements Driver.
func (d *FileDriver) LoadPriors(ctx context.Context, modelID string) ([]types.PerformancePrior, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.priorsPath(modelID))
	if err != nil {
		return nil, nil
	}
	var priors []types.PerformancePrior
	if err := json.Unmarshal(data, &priors); err != nil {
		d.logger.Warn("model-hr: priors file unmarshal failed, degrading to empty", zap.Error(err))
		return nil, nil
	}
	return priors, nil
}

func (d *FileDriver) appendJSONL(path string, v interface{}) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (d *FileDriver) readJSONL(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

// AppendSignal implements Driver.
func (d *FileDriver) AppendSignal(ctx context.Context, sig types.HrSignal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendJSONL(d.signalsPath(), sig)
}

// ListSignals implements Driver, applying the retention window as an
// upper bound on read (spec.md §9 open question 3), never deleting rows.
func (d *FileDriver) ListSignals(ctx context.Context, retentionDays int) ([]types.HrSignal, error) {
	d.mu.Lock()
	lines, err := d.readJSONL(d.signalsPath())
	d.mu.Unlock()
	if err != nil {
		return nil, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var out []types.HrSignal
	for _, line := range lines {
		var sig types.HrSignal
		if json.Unmarshal([]byte(line), &sig) != nil {
			continue
		}
		if retentionDays > 0 {
			if ts, err := time.Parse(time.RFC3339Nano, sig.TsISO); err == nil && ts.Before(cutoff) {
				continue
			}
		}
		out = append(out, sig)
	}
	return out, nil
}

// AppendFallbackEvent implements Driver.
func (d *FileDriver) AppendFallbackEvent(ctx context.Context, tsISO string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendJSONL(d.fallbackPath(), map[string]string{"tsISO": tsISO})
}

// FallbackCount24h implements Driver.
func (d *FileDriver) FallbackCount24h(ctx context.Context) (int, error) {
	d.mu.Lock()
	lines, _ := d.readJSONL(d.fallbackPath())
	d.mu.Unlock()
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	count := 0
	for _, line := range lines {
		var evt struct {
			TsISO string `json:"tsISO"`
		}
		if json.Unmarshal([]byte(line), &evt) != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, evt.TsISO); err == nil && ts.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// EnqueueAction implements Driver.
func (d *FileDriver) EnqueueAction(ctx context.Context, a types.HrAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendJSONL(d.actionsPath(), a)
}

func (d *FileDriver) readActionsLocked() []types.HrAction {
	lines, _ := d.readJSONL(d.actionsPath())
	byID := make(map[string]types.HrAction)
	var order []string
	for _, line := range lines {
		var a types.HrAction
		if json.Unmarshal([]byte(line), &a) != nil {
			continue
		}
		if _, ok := byID[a.ID]; !ok {
			order = append(order, a.ID)
		}
		byID[a.ID] = a
	}
	out := make([]types.HrAction, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// ListActions implements Driver; resolved entries older than the caller's
// retention window are trimmed by TrimResolvedActions, not here.
func (d *FileDriver) ListActions(ctx context.Context, limit int) ([]types.HrAction, error) {
	d.mu.Lock()
	all := d.readActionsLocked()
	d.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].TsISO > all[j].TsISO })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// GetAction implements Driver.
func (d *FileDriver) GetAction(ctx context.Context, id string) (*types.HrAction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.readActionsLocked() {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

// SaveAction implements Driver by appending the updated record to the
// actions log (replay semantics: the file driver's append-only log is a
// changelog, and readActionsLocked folds it by keeping the newest write
// per id).
func (d *FileDriver) SaveAction(ctx context.Context, a types.HrAction) error {
	return d.EnqueueAction(ctx, a)
}

// TrimResolvedActions implements Driver.
func (d *FileDriver) TrimResolvedActions(ctx context.Context, retentionDays int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.readActionsLocked()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	kept := all[:0]
	for _, a := range all {
		if a.Resolved() {
			if ts, err := time.Parse(time.RFC3339Nano, a.TsISO); err == nil && ts.Before(cutoff) {
				continue
			}
		}
		kept = append(kept, a)
	}
	tmp := d.actionsPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, a := range kept {
		data, _ := json.Marshal(a)
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.actionsPath())
}
