package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TierCostThresholds mirrors the pricing package's per-tier USD
// ceilings, exposed here so operators can override them without a
// redeploy.
type TierCostThresholds struct {
	CheapUSD    float64
	StandardUSD float64
	PremiumUSD  float64
}

// CanaryThresholds are the process-wide defaults applied when a
// model's own governance.canaryThresholds is unset.
type CanaryThresholds struct {
	ProbationQuality   float64
	GraduateQuality    float64
	ProbationFailCount int
}

// BackpressureThresholds gate the work-package runner's QA throttling
// and refuse-new behaviour.
type BackpressureThresholds struct {
	QAGateRatio   float64 // 0.90 default
	RefuseNewRatio float64 // 1.00 default
}

// RetentionConfig collects the *_RETENTION_DAYS knobs referenced across
// the HR signal, fallback-event and action queues.
type RetentionConfig struct {
	HrSignalsRetentionDays     int
	HrActionsRetentionDays     int
	FallbackEventsRetentionDays int
}

// PersistenceDriver selects between the file and db storage backends.
type PersistenceDriver string

const (
	PersistenceFile PersistenceDriver = "file"
	PersistenceDB   PersistenceDriver = "db"
)

// MaestroConfig is the process-wide runtime configuration, resolved
// once at startup from environment variables with hard-coded
// defaults — there is no features.yaml for this domain, so unlike the
// gateway-era config this carries no viper dependency.
type MaestroConfig struct {
	PersistenceDriver PersistenceDriver

	TierCost     TierCostThresholds
	Canary       CanaryThresholds
	Backpressure BackpressureThresholds
	Retention    RetentionConfig

	ModelHRObservationsCap int
	DataDir                string

	// ConfigOverridesDir is watched by a ConfigManager (manager.go) for
	// hot-reloaded governance overrides (e.g. disableAutoDisable) staged
	// as files rather than round-tripped through the registry driver.
	ConfigOverridesDir string

	DBConfig DBEnvConfig
}

// DBEnvConfig is the subset of DBDriver configuration sourced from the
// environment.
type DBEnvConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Load resolves MaestroConfig entirely from the environment, applying
// the defaults spec.md's component sections call out.
func Load() MaestroConfig {
	cfg := MaestroConfig{
		PersistenceDriver: resolvePersistenceDriver(),
		TierCost: TierCostThresholds{
			CheapUSD:    envFloat("TIER_COST_CHEAP_USD", 0.0015),
			StandardUSD: envFloat("TIER_COST_STANDARD_USD", 0.01),
			PremiumUSD:  envFloat("TIER_COST_PREMIUM_USD", 0.05),
		},
		Canary: CanaryThresholds{
			ProbationQuality:   envFloat("CANARY_PROBATION_QUALITY", 0.70),
			GraduateQuality:    envFloat("CANARY_GRADUATE_QUALITY", 0.82),
			ProbationFailCount: envInt("CANARY_PROBATION_FAIL_COUNT", 2),
		},
		Backpressure: BackpressureThresholds{
			QAGateRatio:    envFloat("BACKPRESSURE_QA_GATE_RATIO", 0.90),
			RefuseNewRatio: envFloat("BACKPRESSURE_REFUSE_NEW_RATIO", 1.00),
		},
		Retention: RetentionConfig{
			HrSignalsRetentionDays:      envInt("MODEL_HR_SIGNALS_RETENTION_DAYS", 30),
			HrActionsRetentionDays:      envInt("MODEL_HR_ACTIONS_RETENTION_DAYS", 30),
			FallbackEventsRetentionDays: envInt("PROCUREMENT_FALLBACK_RETENTION_DAYS", 7),
		},
		ModelHRObservationsCap: envInt("MODEL_HR_OBSERVATIONS_CAP", 500),
		DataDir:                envString("MAESTRO_DATA_DIR", "./data"),
		ConfigOverridesDir:     envString("MAESTRO_CONFIG_OVERRIDES_DIR", "./config/overrides"),
		DBConfig: DBEnvConfig{
			Host:     envString("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			User:     envString("DB_USER", "maestro"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: envString("DB_NAME", "maestro"),
			SSLMode:  envString("DB_SSLMODE", "disable"),
		},
	}
	return cfg
}

func resolvePersistenceDriver() PersistenceDriver {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PERSISTENCE_DRIVER"))) {
	case "db":
		return PersistenceDB
	default:
		return PersistenceFile
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return parsed
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

// ParseBool converts common string representations to bool, kept for
// the handful of on/off switches the config manager's handlers read
// from hot-reloaded files (e.g. governance.disableAutoDisable
// overrides staged via the config directory).
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}

// Validate checks the resolved configuration for internally
// inconsistent values (e.g. a backpressure QA-gate ratio above the
// refuse-new ratio would gate QA packages only after refusing new
// work, inverting the intended order).
func (c MaestroConfig) Validate() error {
	if c.Backpressure.QAGateRatio > c.Backpressure.RefuseNewRatio {
		return fmt.Errorf("config: backpressure QA gate ratio (%.2f) must not exceed refuse-new ratio (%.2f)",
			c.Backpressure.QAGateRatio, c.Backpressure.RefuseNewRatio)
	}
	if c.TierCost.CheapUSD >= c.TierCost.StandardUSD || c.TierCost.StandardUSD >= c.TierCost.PremiumUSD {
		return fmt.Errorf("config: tier cost thresholds must be strictly increasing (cheap < standard < premium)")
	}
	return nil
}
