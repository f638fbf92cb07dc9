package runner

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/ledger"
)

func noopValidate(kind, output string) *ValidationResult {
	return &ValidationResult{Pass: true, QualityScore: 1.0}
}

func fixedRoute(modelID string) RouteFunc {
	return func(ctx context.Context, pkg WorkPackage) (string, float64, error) {
		return modelID, 0.001, nil
	}
}

func fixedExecute(text string) LLMTextExecute {
	return func(ctx context.Context, modelID, prompt string, maxTokens int) (LLMResult, error) {
		return LLMResult{Text: text, Status: "ok"}, nil
	}
}

func newTestCoordinator(packages []WorkPackage) *Coordinator {
	reg := ledger.NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-test")
	runCtx := Context{
		Route:          fixedRoute("openai/gpt-4o-mini"),
		LLMTextExecute: fixedExecute(`{"ok":true}`),
		Validate:       noopValidate,
		Ledger:         l,
		RunSessionID:   "run-test",
	}
	return New(packages, 10.0, runCtx, zap.NewNop())
}

func TestCoordinator_RunsIndependentPackages(t *testing.T) {
	c := newTestCoordinator([]WorkPackage{
		{ID: "a", Role: RoleWorker},
		{ID: "b", Role: RoleWorker},
	})
	if err := c.Run(context.Background(), ConcurrencyLimits{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	summary := c.Summary()
	if summary[StatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2; summary=%+v", summary[StatusCompleted], summary)
	}
}

func TestCoordinator_DependencyOrdering(t *testing.T) {
	c := newTestCoordinator([]WorkPackage{
		{ID: "a", Role: RoleWorker},
		{ID: "b", Role: RoleQA, Dependencies: []string{"a"}},
	})
	if err := c.Run(context.Background(), ConcurrencyLimits{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	summary := c.Summary()
	if summary[StatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2; summary=%+v", summary[StatusCompleted], summary)
	}
}

func TestCoordinator_UpstreamFailureSkipsDependants(t *testing.T) {
	reg := ledger.NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-fail")
	runCtx := Context{
		Route: func(ctx context.Context, pkg WorkPackage) (string, float64, error) {
			if pkg.ID == "a" {
				return "", 0, errAlwaysFails
			}
			return "openai/gpt-4o-mini", 0.001, nil
		},
		LLMTextExecute: fixedExecute("x"),
		Validate:       noopValidate,
		Ledger:         l,
		RunSessionID:   "run-fail",
	}
	c := New([]WorkPackage{
		{ID: "a", Role: RoleWorker},
		{ID: "b", Role: RoleWorker, Dependencies: []string{"a"}},
	}, 10.0, runCtx, zap.NewNop())

	if err := c.Run(context.Background(), ConcurrencyLimits{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	summary := c.Summary()
	if summary[StatusFailed] != 1 || summary[StatusSkipped] != 1 {
		t.Errorf("summary = %+v, want 1 failed + 1 skipped", summary)
	}
}

var errAlwaysFails = &routeErr{}

type routeErr struct{}

func (e *routeErr) Error() string { return "route failed" }

func TestCoordinator_RunPackageAppliesActualCostToBudget(t *testing.T) {
	reg := ledger.NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-cost")
	runCtx := Context{
		Route: fixedRoute("openai/gpt-4o-mini"),
		LLMTextExecute: func(ctx context.Context, modelID, prompt string, maxTokens int) (LLMResult, error) {
			return LLMResult{Text: "x", Status: "ok", Usage: TokenUsage{InputTokens: 400, OutputTokens: 400}}, nil
		},
		Validate: noopValidate,
		ActualCost: func(modelID, taskType, difficulty string, usage TokenUsage) float64 {
			return float64(usage.InputTokens+usage.OutputTokens) * 0.001
		},
		Ledger:       l,
		RunSessionID: "run-cost",
	}
	c := New([]WorkPackage{{ID: "a", Role: RoleWorker}}, 1.0, runCtx, zap.NewNop())
	if err := c.Run(context.Background(), ConcurrencyLimits{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	state := c.BudgetState()
	if state.UsageRatio <= 0 {
		t.Errorf("expected non-zero budget usage from a real run, got %+v", state)
	}
	snap := l.Snapshot()
	if snap.Costs[ledger.CostWorker] <= 0 {
		t.Errorf("expected ledger to record worker cost from a real run, got %+v", snap.Costs)
	}
}

func TestCoordinator_BudgetStateTracksUsage(t *testing.T) {
	c := newTestCoordinator([]WorkPackage{{ID: "a", Role: RoleWorker}})
	c.addSpent(9.5)
	state := c.BudgetState()
	if !state.QAGated {
		t.Error("expected QAGated at 95% usage")
	}
	if state.RefusingNew {
		t.Error("did not expect RefusingNew at 95% usage")
	}
	c.addSpent(1.0)
	state = c.BudgetState()
	if !state.RefusingNew {
		t.Error("expected RefusingNew once usage exceeds 100%")
	}
}
