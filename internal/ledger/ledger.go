// Package ledger is the per-run, append-only decision log described in
// spec.md §4.5: every routing, escalation, budget and assembly decision
// made while a run executes, plus cost/trust/variance deltas, retained
// until the run finalizes and then frozen.
package ledger

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/metrics"
)

// DecisionType enumerates the eight decision kinds a ledger can record.
type DecisionType string

const (
	DecisionRoute               DecisionType = "ROUTE"
	DecisionAuditPatch          DecisionType = "AUDIT_PATCH"
	DecisionEscalation          DecisionType = "ESCALATION"
	DecisionBudgetOptimization  DecisionType = "BUDGET_OPTIMIZATION"
	DecisionModelHrSignal       DecisionType = "MODEL_HR_SIGNAL"
	DecisionProcurementFallback DecisionType = "PROCUREMENT_FALLBACK"
	DecisionAssembly            DecisionType = "ASSEMBLY"
	DecisionAssemblyFailed      DecisionType = "ASSEMBLY_FAILED"
)

// maxDecisionsPerLedger caps retained decisions; oldest is dropped first.
const maxDecisionsPerLedger = 200

// maxLedgers caps the number of ledgers retained in the registry's LRU.
const maxLedgers = 200

// CostKind classifies a recorded cost entry.
type CostKind string

const (
	CostCouncil         CostKind = "council"
	CostWorker          CostKind = "worker"
	CostQA              CostKind = "qa"
	CostDeterministicQA CostKind = "deterministicQa"
)

// Decision is one append-only ledger entry.
type Decision struct {
	Type      DecisionType
	PackageID string
	Details   map[string]interface{}
	TsISO     string
}

// TrustDelta records a Bayesian trust update applied during a run.
type TrustDelta struct {
	ModelID string
	Role    string // worker | qa
	Delta   float64
	TsISO   string
}

// VarianceEvent records whether a variance sample was recorded or
// skipped (and why).
type VarianceEvent struct {
	Recorded bool
	Reason   string
	TsISO    string
}

// RoleExecution summarises one role's contribution to a finalized run.
// Finalize warns when none are given; snapshots carry them unchanged.
type RoleExecution struct {
	Role           string
	PackagesRun    int
	AvgQualityScore float64
}

// Ledger is a single run's append-only log. Any number of goroutines may
// record against it concurrently; all mutation is protected by mu.
type Ledger struct {
	mu sync.Mutex

	RunSessionID string
	StartedAtISO string
	FinishedAtISO string
	Completed    bool
	Cancelled    bool

	decisions []Decision
	costs     map[CostKind]float64
	trust     []TrustDelta
	variance  []VarianceEvent
	roleExecutions []RoleExecution
	meta      map[string]interface{}

	finalized bool

	logger *zap.Logger
}

func newLedger(runSessionID string, logger *zap.Logger) *Ledger {
	return &Ledger{
		RunSessionID: runSessionID,
		StartedAtISO: time.Now().UTC().Format(time.RFC3339Nano),
		costs:        make(map[CostKind]float64),
		logger:       logger,
	}
}

// RecordDecision appends a decision, capping retained history at 200 by
// dropping the oldest. Safe for concurrent use.
func (l *Ledger) RecordDecision(runSessionID string, d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		l.logger.Warn("ledger: RecordDecision after finalize, dropped", zap.String("runSessionId", l.RunSessionID), zap.String("type", string(d.Type)))
		return
	}
	if d.TsISO == "" {
		d.TsISO = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.decisions = append(l.decisions, d)
	if len(l.decisions) > maxDecisionsPerLedger {
		l.decisions = l.decisions[len(l.decisions)-maxDecisionsPerLedger:]
	}
	metrics.RecordLedgerEntry(string(d.Type))
}

// RecordCost accumulates a cost delta under kind.
func (l *Ledger) RecordCost(kind CostKind, amountUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		l.logger.Warn("ledger: RecordCost after finalize, dropped", zap.String("runSessionId", l.RunSessionID), zap.String("kind", string(kind)))
		return
	}
	l.costs[kind] += amountUSD
}

// RecordTrustDelta appends a trust update record.
func (l *Ledger) RecordTrustDelta(modelID, role string, delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		l.logger.Warn("ledger: RecordTrustDelta after finalize, dropped", zap.String("runSessionId", l.RunSessionID), zap.String("modelId", modelID))
		return
	}
	l.trust = append(l.trust, TrustDelta{ModelID: modelID, Role: role, Delta: delta, TsISO: time.Now().UTC().Format(time.RFC3339Nano)})
}

// RecordVarianceRecorded marks a variance sample as taken.
func (l *Ledger) RecordVarianceRecorded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return
	}
	l.variance = append(l.variance, VarianceEvent{Recorded: true, TsISO: time.Now().UTC().Format(time.RFC3339Nano)})
}

// RecordVarianceSkipped marks a variance sample as skipped with reason.
func (l *Ledger) RecordVarianceSkipped(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return
	}
	l.variance = append(l.variance, VarianceEvent{Recorded: false, Reason: reason, TsISO: time.Now().UTC().Format(time.RFC3339Nano)})
}

// FinalizeOpts carries finalizeLedger's optional fields.
type FinalizeOpts struct {
	Completed      bool
	Cancelled      bool
	RoleExecutions []RoleExecution
	Meta           map[string]interface{}
}

// Finalize stamps finishedAtISO and freezes the ledger (I4): every
// Record* call made after this point is rejected rather than appended
// (decision, cost and trust writes with a logged warning, variance writes
// silently), so a ledger handed to analytics never grows under it.
func (l *Ledger) Finalize(opts FinalizeOpts) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.FinishedAtISO = time.Now().UTC().Format(time.RFC3339Nano)
	l.Completed = opts.Completed
	l.Cancelled = opts.Cancelled
	l.roleExecutions = opts.RoleExecutions
	l.meta = opts.Meta
	l.finalized = true
	if len(opts.RoleExecutions) == 0 {
		l.logger.Warn("ledger: finalize called with empty roleExecutions", zap.String("runSessionId", l.RunSessionID))
	}
}

// Snapshot is an immutable read view of a ledger at a point in time.
type Snapshot struct {
	RunSessionID   string
	StartedAtISO   string
	FinishedAtISO  string
	Completed      bool
	Cancelled      bool
	Decisions      []Decision
	Costs          map[CostKind]float64
	Trust          []TrustDelta
	Variance       []VarianceEvent
	RoleExecutions []RoleExecution
	Meta           map[string]interface{}
}

// Snapshot returns an immutable copy of the ledger's current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	costs := make(map[CostKind]float64, len(l.costs))
	for k, v := range l.costs {
		costs[k] = v
	}
	return Snapshot{
		RunSessionID:   l.RunSessionID,
		StartedAtISO:   l.StartedAtISO,
		FinishedAtISO:  l.FinishedAtISO,
		Completed:      l.Completed,
		Cancelled:      l.Cancelled,
		Decisions:      append([]Decision(nil), l.decisions...),
		Costs:          costs,
		Trust:          append([]TrustDelta(nil), l.trust...),
		Variance:       append([]VarianceEvent(nil), l.variance...),
		RoleExecutions: append([]RoleExecution(nil), l.roleExecutions...),
		Meta:           l.meta,
	}
}

// Registry owns every ledger for the process, capped at 200 with LRU
// eviction of the oldest completed ledger once the cap is exceeded.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*list.Element
	order   *list.List // front = most recently touched
	logger  *zap.Logger
}

type registryEntry struct {
	id     string
	ledger *Ledger
}

// NewRegistry constructs an empty ledger registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*list.Element),
		order:  list.New(),
		logger: logger,
	}
}

// CreateLedger is idempotent: calling it twice for the same runSessionId
// returns the existing ledger.
func (reg *Registry) CreateLedger(runSessionID string) *Ledger {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if el, ok := reg.byID[runSessionID]; ok {
		reg.order.MoveToFront(el)
		return el.Value.(*registryEntry).ledger
	}

	l := newLedger(runSessionID, reg.logger)
	el := reg.order.PushFront(&registryEntry{id: runSessionID, ledger: l})
	reg.byID[runSessionID] = el
	reg.evictIfNeeded()
	return l
}

func (reg *Registry) evictIfNeeded() {
	for reg.order.Len() > maxLedgers {
		// keep in-flight ledgers; only evict completed ones, oldest first
		var victim *list.Element
		for el := reg.order.Back(); el != nil; el = el.Prev() {
			if e := el.Value.(*registryEntry); e.ledger.Completed || e.ledger.Cancelled {
				victim = el
				break
			}
		}
		if victim == nil {
			return
		}
		reg.order.Remove(victim)
		delete(reg.byID, victim.Value.(*registryEntry).id)
		metrics.LedgerEvictions.Inc()
	}
}

// GetLedger returns an immutable snapshot, or ok=false if unknown.
func (reg *Registry) GetLedger(runSessionID string) (Snapshot, bool) {
	reg.mu.Lock()
	el, ok := reg.byID[runSessionID]
	reg.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return el.Value.(*registryEntry).ledger.Snapshot(), true
}

// ListLedgers returns snapshots sorted by StartedAtISO descending.
func (reg *Registry) ListLedgers() []Snapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Snapshot, 0, reg.order.Len())
	for el := reg.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*registryEntry).ledger.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAtISO > out[j].StartedAtISO
	})
	return out
}
