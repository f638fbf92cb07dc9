// Package runner is the Work-Package Runner: a cooperative-concurrent
// coordinator over a DAG of work packages, dispatching to two
// role-bounded worker pools (Worker/QA), with per-package retry and
// escalation and project-budget backpressure (spec.md §4.3). It is
// deliberately NOT modelled as async/await coroutines or a workflow
// engine — one coordinator goroutine owns scheduling state and hands
// ready packages to bounded pools, per spec.md §9.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/netfryer/maestro/internal/ledger"
	"github.com/netfryer/maestro/internal/metrics"
	"github.com/netfryer/maestro/internal/ratecontrol"
)

// Role is a work package's execution role.
type Role string

const (
	RoleWorker Role = "worker"
	RoleQA     Role = "qa"
)

// PackageStatus is a work package's scheduling state.
type PackageStatus string

const (
	StatusPending   PackageStatus = "pending"
	StatusRunning   PackageStatus = "running"
	StatusCompleted PackageStatus = "completed"
	StatusFailed    PackageStatus = "failed"
	StatusSkipped   PackageStatus = "skipped"
)

// WorkPackage is one atomic unit of the DAG.
type WorkPackage struct {
	ID           string
	Role         Role
	PackageKind  string // e.g. "aggregation-report"; keys the output validator
	Dependencies []string
	QAFor        string // set on a QA package: the worker package id it reviews

	Prompt     string
	MaxTokens  int
	TaskType   string
	Difficulty string
	Tier       string // tier profile label consulted by provider rate control

	status           PackageStatus
	skipReason       string
	escalated        bool
	retries          int
	predictedCostUSD float64
}

// ConcurrencyLimits bounds the two role pools (defaults: worker=3, qa=2).
type ConcurrencyLimits struct {
	Worker int
	QA     int
}

func (c ConcurrencyLimits) withDefaults() ConcurrencyLimits {
	if c.Worker <= 0 {
		c.Worker = 3
	}
	if c.QA <= 0 {
		c.QA = 2
	}
	return c
}

// LLMResult is the executor response contract (spec.md §6).
type LLMResult struct {
	Text   string
	Usage  TokenUsage
	Status string
	Err    error
}

// TokenUsage is input/output token counts reported by an executor.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// LLMTextExecute is the single non-streaming LLM call contract consumed
// by the runner (spec.md §6). Implementations live outside this
// package — the runner only depends on this function shape.
type LLMTextExecute func(ctx context.Context, modelID, prompt string, maxTokens int) (LLMResult, error)

// RouteFunc picks a model for a package, returning its id and the
// predicted USD cost pricing.Estimate produced for it (spec.md §4.1a).
type RouteFunc func(ctx context.Context, pkg WorkPackage) (modelID string, predictedCostUSD float64, err error)

// ActualCostFunc prices tokens actually consumed by an executed package,
// using the same per-token pricing RouteFunc's caller used to predict
// cost, so predicted vs actual stays comparable for variance tracking.
type ActualCostFunc func(modelID, taskType, difficulty string, usage TokenUsage) float64

// ValidateFunc runs the deterministic output validator keyed by package
// kind (spec.md §4.4). A nil return means "no check" (unknown packageId).
type ValidateFunc func(packageKind, output string) *ValidationResult

// ValidationResult is what a deterministic output validator returns.
type ValidationResult struct {
	Pass         bool
	Defects      []string
	Warnings     []string
	QualityScore float64
}

// QAFunc runs hybrid QA for a worker package's output.
type QAFunc func(ctx context.Context, pkg WorkPackage, workerOutput string, budgetGated bool) (QAResult, error)

// QAResult is a QA package's verdict.
type QAResult struct {
	QualityScore float64
	Defects      []string
	QAMode       string // deterministic | llm | hybrid
}

// ObservationRecorder records a post-execution observation into Model
// HR (spec.md §4.3 step 5). Kept as a function value to avoid a direct
// dependency on internal/modelhr's concrete Registry type.
type ObservationRecorder func(modelID, taskType, difficulty string, predictedCostUSD, actualCostUSD, predictedQuality, actualQuality float64, defectCount int, qaMode string, budgetGated bool, packageID string)

// Context bundles everything the coordinator needs to execute a run
// (spec.md §4.3 "Inputs"), mirroring ctx{route, modelRegistry, ...}.
type Context struct {
	Route           RouteFunc
	LLMTextExecute  LLMTextExecute
	Validate        ValidateFunc
	QA              QAFunc
	RecordObservation ObservationRecorder
	ActualCost      ActualCostFunc
	Ledger          *ledger.Ledger
	RunSessionID    string
	EscalationModel func(currentModelID string) (nextTierModelID string, ok bool)
}

const (
	escalationThresholdDefault = 0.60
	maxEscalationsPerPackage   = 1
	maxRetriesPerPackage       = 2

	backpressure90Pct  = 0.90
	backpressure100Pct = 1.00
)

var retryBackoff = []time.Duration{300 * time.Millisecond, 900 * time.Millisecond}

// Coordinator schedules a DAG of work packages across the Worker/QA
// pools. One Coordinator instance runs one project's packages.
type Coordinator struct {
	mu       sync.Mutex
	packages map[string]*WorkPackage
	byRole   map[Role][]*WorkPackage

	projectBudgetUSD float64
	spentUSD         float64

	budgetGated  bool
	refuseNewPkg bool

	logger *zap.Logger
	ctx    Context

	cancelled bool
}

// New constructs a Coordinator for the given packages.
func New(packages []WorkPackage, projectBudgetUSD float64, runCtx Context, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		packages:         make(map[string]*WorkPackage),
		byRole:           make(map[Role][]*WorkPackage),
		projectBudgetUSD: projectBudgetUSD,
		logger:           logger,
		ctx:              runCtx,
	}
	for i := range packages {
		p := packages[i]
		p.status = StatusPending
		stored := p
		c.packages[p.ID] = &stored
		c.byRole[p.Role] = append(c.byRole[p.Role], &stored)
	}
	return c
}

// Cancel requests cooperative cancellation: in-flight packages finish,
// no new packages are started.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Run executes the DAG to completion (or cancellation), honoring
// concurrency limits and backpressure. It returns once every package has
// reached a terminal state.
func (c *Coordinator) Run(ctx context.Context, limits ConcurrencyLimits) error {
	limits = limits.withDefaults()

	workerSem := make(chan struct{}, limits.Worker)
	qaSem := make(chan struct{}, limits.QA)

	for {
		ready := c.readyPackages()
		if len(ready) == 0 {
			if c.allTerminal() {
				break
			}
			// nothing ready but not all terminal: waiting on in-flight work
			time.Sleep(10 * time.Millisecond)
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, pkg := range ready {
			pkg := pkg
			sem := workerSem
			if pkg.Role == RoleQA {
				sem = qaSem
			}
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-sem }()
				c.runPackage(gctx, pkg)
				return nil
			})
		}
		if err := g.Wait(); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

func (c *Coordinator) readyPackages() []*WorkPackage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ready []*WorkPackage
	for _, p := range c.packages {
		if p.status != StatusPending {
			continue
		}
		if c.cancelled || c.refuseNewPkg {
			p.status = StatusSkipped
			p.skipReason = "budget_exceeded"
			if c.cancelled {
				p.skipReason = "cancelled"
			}
			continue
		}
		if c.dependenciesTerminal(p) {
			if c.anyDependencyFailed(p) {
				p.status = StatusSkipped
				p.skipReason = "upstream_failed"
				continue
			}
			p.status = StatusRunning
			ready = append(ready, p)
		}
	}
	return ready
}

func (c *Coordinator) dependenciesTerminal(p *WorkPackage) bool {
	for _, depID := range p.Dependencies {
		dep, ok := c.packages[depID]
		if !ok {
			continue
		}
		if dep.status != StatusCompleted && dep.status != StatusFailed && dep.status != StatusSkipped {
			return false
		}
	}
	return true
}

func (c *Coordinator) anyDependencyFailed(p *WorkPackage) bool {
	for _, depID := range p.Dependencies {
		dep, ok := c.packages[depID]
		if !ok {
			continue
		}
		if dep.status == StatusFailed || dep.status == StatusSkipped {
			return true
		}
	}
	return false
}

func (c *Coordinator) allTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.packages {
		if p.status == StatusPending || p.status == StatusRunning {
			return false
		}
	}
	return true
}

func (c *Coordinator) budgetUsageRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.projectBudgetUSD <= 0 {
		return 0
	}
	return c.spentUSD / c.projectBudgetUSD
}

func (c *Coordinator) addSpent(amountUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spentUSD += amountUSD
	metrics.BudgetUsageRatio.Set(c.spentUSD / maxPositive(c.projectBudgetUSD, 1))

	ratio := c.spentUSD / maxPositive(c.projectBudgetUSD, 1)
	if ratio >= backpressure100Pct && !c.refuseNewPkg {
		c.refuseNewPkg = true
	}
	if ratio >= backpressure90Pct && !c.budgetGated {
		c.budgetGated = true
		metrics.BackpressureDelaysApplied.WithLabelValues("90pct").Inc()
	}
}

func maxPositive(v, floor float64) float64 {
	if v <= 0 {
		return floor
	}
	return v
}

// runPackage executes one package end-to-end: route, execute, validate,
// QA fan-in, retry/escalation, observation recording.
func (c *Coordinator) runPackage(ctx context.Context, pkg *WorkPackage) {
	start := time.Now()
	metrics.PackagesStarted.WithLabelValues(string(pkg.Role)).Inc()

	modelID, predictedCostUSD, err := c.ctx.Route(ctx, *pkg)
	if err != nil || modelID == "" {
		c.finish(pkg, StatusFailed, start)
		return
	}
	pkg.predictedCostUSD = predictedCostUSD

	result, retries := c.executeWithRetry(ctx, modelID, pkg)
	if result.Err != nil {
		c.finish(pkg, StatusFailed, start)
		metrics.PackageRetries.WithLabelValues(string(pkg.Role)).Add(float64(retries))
		return
	}

	validation := c.ctx.Validate(pkg.PackageKind, result.Text)
	if validation != nil && !validation.Pass && !pkg.escalated {
		if nextModel, ok := c.tryEscalate(ctx, pkg); ok {
			c.ctx.Ledger.RecordDecision(c.ctx.RunSessionID, ledger.Decision{
				Type:      ledger.DecisionEscalation,
				PackageID: pkg.ID,
				Details:   map[string]interface{}{"reason": "output_validation_failed", "escalatedTo": nextModel},
			})
			result, _ = c.executeWithRetry(ctx, nextModel, pkg)
			modelID = nextModel
		}
	}

	c.recordCostAndObservation(modelID, pkg, result, validation)

	c.finish(pkg, StatusCompleted, start)
}

func (c *Coordinator) executeWithRetry(ctx context.Context, modelID string, pkg *WorkPackage) (LLMResult, int) {
	var result LLMResult
	var err error
	retries := 0
	for attempt := 0; attempt <= maxRetriesPerPackage; attempt++ {
		if !applyRateControlDelay(ctx, modelID, pkg.Tier, pkg.MaxTokens) {
			return LLMResult{Err: ctx.Err()}, retries
		}
		result, err = c.ctx.LLMTextExecute(ctx, modelID, pkg.Prompt, pkg.MaxTokens)
		if err == nil {
			result.Err = nil
			return result, retries
		}
		retries++
		if attempt < len(retryBackoff) {
			select {
			case <-time.After(retryBackoff[attempt]):
			case <-ctx.Done():
				return LLMResult{Err: ctx.Err()}, retries
			}
		}
	}
	return LLMResult{Err: err}, retries
}

// applyRateControlDelay sleeps for the provider/tier rate-limit delay
// ratecontrol computes before a dispatch, returning false if ctx was
// cancelled while waiting.
func applyRateControlDelay(ctx context.Context, modelID, tier string, estimatedTokens int) bool {
	provider := modelID
	if i := strings.IndexByte(modelID, '/'); i >= 0 {
		provider = modelID[:i]
	}
	delay := ratecontrol.DelayForRequest(provider, tier, estimatedTokens)
	if delay <= 0 {
		return true
	}
	metrics.RateLimitDelay.WithLabelValues(provider, tier).Observe(delay.Seconds())
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) tryEscalate(ctx context.Context, pkg *WorkPackage) (string, bool) {
	if pkg.escalated || c.ctx.EscalationModel == nil {
		return "", false
	}
	current, _, err := c.ctx.Route(ctx, *pkg)
	if err != nil {
		return "", false
	}
	next, ok := c.ctx.EscalationModel(current)
	if !ok {
		return "", false
	}
	pkg.escalated = true
	metrics.PackageEscalations.Inc()
	return next, true
}

func (c *Coordinator) recordCostAndObservation(modelID string, pkg *WorkPackage, result LLMResult, validation *ValidationResult) {
	predictedQuality := 1.0
	actualQuality := 1.0
	defectCount := 0
	qaMode := ""
	budgetGated := c.budgetGatedSnapshot()

	if validation != nil {
		actualQuality = validation.QualityScore
		defectCount = len(validation.Defects)
	}

	if pkg.Role == RoleQA && c.ctx.QA != nil {
		qaResult, err := c.ctx.QA(context.Background(), *pkg, result.Text, budgetGated)
		if err == nil {
			actualQuality = qaResult.QualityScore
			defectCount = len(qaResult.Defects)
			qaMode = qaResult.QAMode
			if qaResult.QualityScore < escalationThresholdDefault {
				c.ctx.Ledger.RecordDecision(c.ctx.RunSessionID, ledger.Decision{
					Type:      ledger.DecisionEscalation,
					PackageID: pkg.ID,
					Details:   map[string]interface{}{"reason": "quality_below_threshold"},
				})
			}
		}
	}

	actualCostUSD := 0.0
	if c.ctx.ActualCost != nil {
		actualCostUSD = c.ctx.ActualCost(modelID, pkg.TaskType, pkg.Difficulty, result.Usage)
	}
	c.addSpent(actualCostUSD)
	if c.ctx.Ledger != nil {
		c.ctx.Ledger.RecordCost(costKindForRole(pkg.Role), actualCostUSD)
	}

	if c.ctx.RecordObservation != nil {
		c.ctx.RecordObservation(modelID, pkg.TaskType, pkg.Difficulty, pkg.predictedCostUSD, actualCostUSD, predictedQuality, actualQuality, defectCount, qaMode, budgetGated, pkg.ID)
	}
}

func costKindForRole(role Role) ledger.CostKind {
	if role == RoleQA {
		return ledger.CostQA
	}
	return ledger.CostWorker
}

func (c *Coordinator) budgetGatedSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgetGated
}

func (c *Coordinator) finish(pkg *WorkPackage, status PackageStatus, start time.Time) {
	c.mu.Lock()
	pkg.status = status
	c.mu.Unlock()

	durationSeconds := time.Since(start).Seconds()
	statusLabel := "success"
	if status == StatusFailed {
		statusLabel = "failed"
	} else if pkg.escalated {
		statusLabel = "escalated"
	}
	metrics.RecordPackageCompletion(string(pkg.Role), statusLabel, durationSeconds, pkg.retries)
}

// Summary reports the terminal status distribution of all packages.
func (c *Coordinator) Summary() map[PackageStatus]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[PackageStatus]int)
	for _, p := range c.packages {
		out[p.status]++
	}
	return out
}

// String satisfies fmt.Stringer for debugging.
func (p WorkPackage) String() string {
	return fmt.Sprintf("WorkPackage{ID:%s Role:%s Status:%s}", p.ID, p.Role, p.status)
}
