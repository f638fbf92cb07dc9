package runner

import (
	"github.com/netfryer/maestro/internal/ledger"
)

// BudgetState reports the coordinator's current backpressure posture.
type BudgetState struct {
	UsageRatio   float64
	QAGated      bool // LLM-QA disabled for subsequent QA packages (90% threshold)
	RefusingNew  bool // no further packages start (100% threshold)
}

// BudgetState snapshots the coordinator's current backpressure posture
// (spec.md §4.3 "Backpressure").
func (c *Coordinator) BudgetState() BudgetState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ratio := 0.0
	if c.projectBudgetUSD > 0 {
		ratio = c.spentUSD / c.projectBudgetUSD
	}
	return BudgetState{UsageRatio: ratio, QAGated: c.budgetGated, RefusingNew: c.refuseNewPkg}
}

// FinalizeResult describes how a run concluded, feeding finalizeLedger.
type FinalizeResult struct {
	Completed bool
	Cancelled bool
	Warning   string // "budget_exceeded" when the 100% threshold was crossed
}

// Finalize determines the run's terminal disposition and writes a
// BUDGET_OPTIMIZATION decision when the 100% threshold was crossed
// (spec.md §4.3: "finalises with status=completed but with a
// budget_exceeded warning").
func (c *Coordinator) Finalize(l *ledger.Ledger, runSessionID string, roleExecutions []ledger.RoleExecution) FinalizeResult {
	state := c.BudgetState()
	c.mu.Lock()
	cancelled := c.cancelled
	c.mu.Unlock()

	result := FinalizeResult{Completed: true, Cancelled: cancelled}
	if cancelled {
		result.Completed = false
	}
	if state.RefusingNew {
		result.Warning = "budget_exceeded"
		l.RecordDecision(runSessionID, ledger.Decision{
			Type:    ledger.DecisionBudgetOptimization,
			Details: map[string]interface{}{"warning": "budget_exceeded", "usageRatio": state.UsageRatio},
		})
	}

	l.Finalize(ledger.FinalizeOpts{
		Completed:      result.Completed,
		Cancelled:      result.Cancelled,
		RoleExecutions: roleExecutions,
		Meta:           map[string]interface{}{"budgetWarning": result.Warning},
	})
	return result
}
