package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Model HR registry metrics
	RegistryModelsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maestro_registry_models_total",
			Help: "Number of models currently in the registry by status",
		},
		[]string{"status"},
	)

	RegistryUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_registry_upserts_total",
			Help: "Total number of registry upsert operations",
		},
		[]string{"kind"}, // new | pricing_changed | metadata_changed | unchanged
	)

	RegistryStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_registry_status_transitions_total",
			Help: "Total number of model lifecycle status transitions",
		},
		[]string{"from", "to", "reason"},
	)

	HrActionsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_hr_actions_queued_total",
			Help: "Total number of Model HR actions enqueued for approval",
		},
		[]string{"action"},
	)

	HrActionsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_hr_actions_resolved_total",
			Help: "Total number of Model HR actions resolved",
		},
		[]string{"action", "outcome"}, // outcome: approved | rejected
	)

	// Router and portfolio metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_routing_decisions_total",
			Help: "Total number of routing decisions made",
		},
		[]string{"selection_mode", "outcome"}, // selection_mode: cheapest_viable | score_ranked, outcome: routed | no_eligible_models
	)

	RoutingEligibleCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maestro_routing_eligible_candidates",
			Help:    "Number of eligible model candidates considered per routing decision",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	RoutingScoreMargin = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maestro_routing_score_margin",
			Help:    "Score gap between the chosen candidate and the runner-up",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.2, 0.5},
		},
	)

	PortfolioCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_portfolio_cache_hits_total",
			Help: "Total number of portfolio recommendation cache hits",
		},
	)

	PortfolioCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_portfolio_cache_misses_total",
			Help: "Total number of portfolio recommendation cache misses",
		},
	)

	PortfolioCacheSingleflight = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_portfolio_cache_singleflight_total",
			Help: "Total number of portfolio cache refreshes deduplicated via singleflight",
		},
	)

	// Work-package runner metrics
	PackagesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_packages_started_total",
			Help: "Total number of work packages started",
		},
		[]string{"role"}, // worker | qa
	)

	PackagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_packages_completed_total",
			Help: "Total number of work packages completed",
		},
		[]string{"role", "status"}, // status: success | failed | escalated
	)

	PackageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_package_duration_seconds",
			Help:    "Work package execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	PackageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_package_retries_total",
			Help: "Total number of work package retry attempts",
		},
		[]string{"role"},
	)

	PackageEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_package_escalations_total",
			Help: "Total number of work packages escalated to another model after failing output validation",
		},
	)

	BackpressureDelaysApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_backpressure_delays_total",
			Help: "Total number of times budget backpressure was applied during a run",
		},
		[]string{"threshold"}, // 90pct (LLM-QA gated); the 100pct refusal of new packages is not counted
	)

	BudgetUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_budget_usage_ratio",
			Help: "Current run's budget usage as a fraction of total budget",
		},
	)

	RateLimitDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_rate_limit_delay_seconds",
			Help:    "Provider/tier rate-control delay applied before a dispatch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "tier"},
	)

	// Run ledger and analytics metrics
	LedgerEntriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_ledger_entries_total",
			Help: "Total number of ledger decisions recorded",
		},
		[]string{"decision_type"},
	)

	LedgerEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_ledger_evictions_total",
			Help: "Total number of run ledgers evicted from the in-memory LRU",
		},
	)

	TuningProposalsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_tuning_proposals_total",
			Help: "Total number of deterministic tuning proposals generated",
		},
		[]string{"rule"},
	)

	TuningProposalsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_tuning_proposals_applied_total",
			Help: "Total number of tuning proposals auto-applied",
		},
	)

	// Assembler metrics
	AssemblyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_assembly_attempts_total",
			Help: "Total number of assembly validation attempts",
		},
		[]string{"status"}, // success | failed
	)

	AssemblyManifestFiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maestro_assembly_manifest_files",
			Help:    "Number of files included in an assembly manifest",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// Storage driver metrics
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_storage_operations_total",
			Help: "Total number of storage driver operations",
		},
		[]string{"driver", "op", "status"}, // driver: file | db
	)

	// Pricing fallback metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (missing/unknown model pricing)",
		},
		[]string{"reason"},
	)
)

// RecordRoutingDecision records a completed routing decision.
func RecordRoutingDecision(selectionMode, outcome string, eligibleCount int, scoreMargin float64) {
	RoutingDecisions.WithLabelValues(selectionMode, outcome).Inc()
	RoutingEligibleCandidates.Observe(float64(eligibleCount))
	if scoreMargin >= 0 {
		RoutingScoreMargin.Observe(scoreMargin)
	}
}

// RecordPackageCompletion records metrics for a finished work package.
func RecordPackageCompletion(role, status string, durationSeconds float64, retries int) {
	PackagesCompleted.WithLabelValues(role, status).Inc()
	PackageDuration.WithLabelValues(role).Observe(durationSeconds)
	if retries > 0 {
		PackageRetries.WithLabelValues(role).Add(float64(retries))
	}
	if status == "escalated" {
		PackageEscalations.Inc()
	}
}

// RecordLedgerEntry increments the per-decision-type ledger counter.
func RecordLedgerEntry(decisionType string) {
	LedgerEntriesRecorded.WithLabelValues(decisionType).Inc()
}

// RecordStorageOp records a storage driver operation outcome.
func RecordStorageOp(driver, op, status string) {
	StorageOperations.WithLabelValues(driver, op, status).Inc()
}
