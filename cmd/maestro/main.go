// Command maestro wires the Model HR registry, router, work-package
// runner, ledger and analytics packages into a single demo run. It is
// deliberately not an HTTP server: spec.md §6's HTTP surface is a
// representative external interface for a harness to implement, not
// part of this module's scope.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/analytics"
	"github.com/netfryer/maestro/internal/assembler"
	"github.com/netfryer/maestro/internal/config"
	"github.com/netfryer/maestro/internal/ledger"
	"github.com/netfryer/maestro/internal/modelhr"
	"github.com/netfryer/maestro/internal/modelhr/policyopa"
	"github.com/netfryer/maestro/internal/modelhr/storage"
	"github.com/netfryer/maestro/internal/modelhr/types"
	"github.com/netfryer/maestro/internal/pricing"
	"github.com/netfryer/maestro/internal/router"
	"github.com/netfryer/maestro/internal/runner"
	"github.com/netfryer/maestro/internal/tracing"
	"github.com/netfryer/maestro/internal/trust"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{Enabled: false, ServiceName: "maestro"}, logger); err != nil {
		logger.Warn("tracing init failed; continuing without traces", zap.Error(err))
	}

	ctx := context.Background()

	driver, err := openStorageDriver(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage driver", zap.Error(err))
	}

	registry := modelhr.New(driver, logger)
	seedDemoModels(ctx, registry, logger)

	if configManager, err := config.NewConfigManager(cfg.ConfigOverridesDir, logger); err != nil {
		logger.Warn("governance-overrides config manager init failed; continuing without hot-reloaded overrides", zap.Error(err))
	} else {
		configManager.RegisterHandler("governance.json", func(event config.ChangeEvent) error {
			return applyGovernanceOverride(ctx, registry, event.Config, logger)
		})
		if err := configManager.Start(ctx); err != nil {
			logger.Warn("governance-overrides config manager failed to start", zap.Error(err))
		} else {
			defer configManager.Stop()
		}
	}

	trustTracker := trust.NewTracker()
	varianceTracker := trust.NewVarianceTracker()
	ledgerRegistry := ledger.NewRegistry(logger)

	runSessionID := "demo-run-001"
	runLedger := ledgerRegistry.CreateLedger(runSessionID)

	policyEngine, err := policyopa.NewEngine(policyopa.Config{Enabled: false}, logger)
	if err != nil {
		logger.Warn("policy engine init failed; routing without a policy veto", zap.Error(err))
	}

	models := registry.ListModels(ctx, storage.Filters{})
	card := router.TaskCard{TaskType: "coding", Difficulty: "medium", TierProfile: types.TierStandard}
	tokens := router.EstimateTokensForTask(card.TaskType, card.Difficulty, "Summarize three CSV files and emit a TypeScript aggregation report.")

	routingOpts := router.RoutingOpts{}
	if policyEngine != nil {
		routingOpts.PolicyVeto = func(m types.ModelRegistryEntry) (bool, string) {
			d, _ := policyEngine.Evaluate(ctx, policyopa.Input{
				ModelID: m.ID, Provider: m.Identity.Provider,
				TaskType: card.TaskType, Difficulty: card.Difficulty, TierProfile: string(card.TierProfile),
			})
			// Evaluate already folds fail-open/fail-closed semantics into
			// d.Allow on error, so the error itself carries no extra signal.
			return d.Allow, d.Reason
		}
	}

	routeResult := router.Route(card, models, router.Config{}, 5.0, tokens, router.PortfolioOpts{}, routingOpts, nil)
	router.RecordRouteDecision(runLedger, runSessionID, "pkg-1", routeResult)

	if routeResult.ChosenModelID == "" {
		logger.Warn("no eligible model found for demo package; skipping execution")
	} else {
		runDemoPackage(ctx, registry, runLedger, runSessionID, routeResult.ChosenModelID, trustTracker, varianceTracker, logger)
	}

	roleExecutions := []ledger.RoleExecution{{Role: "worker", PackagesRun: 1, AvgQualityScore: 0.9}}
	runLedger.Finalize(ledger.FinalizeOpts{Completed: true, RoleExecutions: roleExecutions})

	snap, _ := ledgerRegistry.GetLedger(runSessionID)
	summary := analytics.SummarizeLedger(snap, "off")
	kpis := analytics.AggregateKpis([]analytics.LedgerSummary{summary})
	proposals := analytics.GenerateTuningProposals(kpis, []analytics.LedgerSummary{summary})

	logger.Info("demo run complete",
		zap.String("runSessionId", runSessionID),
		zap.Int("decisions", len(snap.Decisions)),
		zap.Float64("totalUSD", summary.TotalUSD),
		zap.Int("tuningProposals", len(proposals)),
	)
	fmt.Printf("run %s finalized: %d decisions, $%.4f total, %d tuning proposals\n",
		runSessionID, len(snap.Decisions), summary.TotalUSD, len(proposals))
}

func openStorageDriver(ctx context.Context, cfg config.MaestroConfig, logger *zap.Logger) (storage.Driver, error) {
	switch cfg.PersistenceDriver {
	case config.PersistenceDB:
		dbCfg := storage.DBConfig{
			Host:     cfg.DBConfig.Host,
			Port:     cfg.DBConfig.Port,
			User:     cfg.DBConfig.User,
			Password: cfg.DBConfig.Password,
			Database: cfg.DBConfig.Database,
			SSLMode:  cfg.DBConfig.SSLMode,
		}
		return storage.NewDBDriver(ctx, dbCfg, logger)
	default:
		return storage.NewFileDriver(cfg.DataDir, logger)
	}
}

// applyGovernanceOverride reacts to a hot-reloaded governance.json drop
// in cfg.ConfigOverridesDir, flipping a single model's
// Governance.DisableAutoDisable and writing the entry back through
// registry.UpsertModel.
func applyGovernanceOverride(ctx context.Context, registry *modelhr.Registry, overrides map[string]interface{}, logger *zap.Logger) error {
	modelID, _ := overrides["modelId"].(string)
	if modelID == "" {
		return fmt.Errorf("governance override missing modelId")
	}
	entry, err := registry.GetModel(ctx, modelID)
	if err != nil || entry == nil {
		return fmt.Errorf("governance override: model %q not found", modelID)
	}
	if v, ok := overrides["disableAutoDisable"]; ok {
		entry.Governance.DisableAutoDisable = config.ParseBool(fmt.Sprint(v))
	}
	if err := registry.UpsertModel(ctx, *entry); err != nil {
		return err
	}
	logger.Info("applied governance override from hot-reloaded config", zap.String("modelId", modelID))
	return nil
}

func seedDemoModels(ctx context.Context, registry *modelhr.Registry, logger *zap.Logger) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	demo := types.ModelRegistryEntry{
		ID:       types.CanonicalID("openai", "gpt-4o-mini"),
		Identity: types.Identity{Provider: "openai", ModelID: "gpt-4o-mini", Status: types.StatusActive},
		Pricing:  types.Pricing{InPer1K: 0.00015, OutPer1K: 0.0006, Currency: "USD"},
		Expertise: map[string]float64{"general": 0.6, "coding": 0.55},
		Reliability: 0.92,
		Guardrails:  types.Guardrails{SafetyCategory: "standard"},
		Governance:  types.Governance{AllowedTiers: []types.TierProfile{types.TierCheap, types.TierStandard, types.TierPremium}},
		EvaluationMeta: types.EvaluationMeta{CanaryStatus: types.CanaryPassed},
		CreatedAtISO: now,
		UpdatedAtISO: now,
	}
	if err := registry.UpsertModel(ctx, demo); err != nil {
		logger.Warn("failed to seed demo model", zap.Error(err))
	}
}

func runDemoPackage(ctx context.Context, registry *modelhr.Registry, runLedger *ledger.Ledger, runSessionID, modelID string, trustTracker *trust.Tracker, varianceTracker *trust.VarianceTracker, logger *zap.Logger) {
	pkg := runner.WorkPackage{
		ID: "pkg-1", Role: runner.RoleWorker, PackageKind: "aggregation-report",
		Prompt: "demo prompt", MaxTokens: 800, TaskType: "coding", Difficulty: "medium",
	}

	entry, _ := registry.GetModel(ctx, modelID)

	runCtx := runner.Context{
		Route: func(ctx context.Context, p runner.WorkPackage) (string, float64, error) {
			predicted := 0.0
			if entry != nil {
				predicted = pricing.Estimate(*entry, p.TaskType, p.Difficulty,
					router.EstimateTokensForTask(p.TaskType, p.Difficulty, p.Prompt))
			}
			return modelID, predicted, nil
		},
		LLMTextExecute: func(ctx context.Context, modelID, prompt string, maxTokens int) (runner.LLMResult, error) {
			return runner.LLMResult{Text: "{}", Status: "ok", Usage: runner.TokenUsage{InputTokens: 400, OutputTokens: 200}}, nil
		},
		ActualCost: func(modelID, taskType, difficulty string, usage runner.TokenUsage) float64 {
			if entry == nil {
				return 0
			}
			return pricing.Estimate(*entry, taskType, difficulty, pricing.EstimatedTokens{Input: usage.InputTokens, Output: usage.OutputTokens})
		},
		Validate: func(packageKind, output string) *runner.ValidationResult {
			result := assembler.Validate(packageKind, output)
			if result == nil {
				return nil
			}
			return &runner.ValidationResult{
				Pass: result.Pass, Defects: result.Defects,
				Warnings: result.Warnings, QualityScore: result.QualityScore,
			}
		},
		RecordObservation: func(modelID, taskType, difficulty string, predictedCostUSD, actualCostUSD, predictedQuality, actualQuality float64, defectCount int, qaMode string, budgetGated bool, packageID string) {
			registry.RecordObservation(ctx, types.ModelObservation{
				ModelID: modelID, TaskType: taskType, Difficulty: difficulty,
				PredictedCostUSD: predictedCostUSD, ActualCostUSD: actualCostUSD,
				PredictedQuality: predictedQuality, ActualQuality: actualQuality,
				DefectCount: defectCount, QAMode: qaMode, BudgetGated: budgetGated,
				RunSessionID: runSessionID, PackageID: packageID,
				TsISO: time.Now().UTC().Format(time.RFC3339Nano),
			}, 500)
			delta := trustTracker.RecordOutcome(modelID, "worker", actualQuality)
			varianceTracker.Record(modelID, taskType, actualCostUSD/maxPositive(predictedCostUSD))
			runLedger.RecordTrustDelta(modelID, "worker", delta)
		},
		Ledger:       runLedger,
		RunSessionID: runSessionID,
	}

	coordinator := runner.New([]runner.WorkPackage{pkg}, 5.0, runCtx, logger)
	if err := coordinator.Run(ctx, runner.ConcurrencyLimits{}); err != nil {
		logger.Warn("demo run-packages execution failed", zap.Error(err))
	}
}

func maxPositive(v float64) float64 {
	if v <= 0 {
		return pricing.DefaultPerTokenUSD
	}
	return v
}
