package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/netfryer/maestro/internal/circuitbreaker"
	"github.com/netfryer/maestro/internal/modelhr/types"
)

// DBConfig mirrors the teacher's connection-pool defaults.
type DBConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// DBDriver is the relational-tables-with-jsonb-payload-columns
// implementation of Driver (spec.md §4.1a). Every statement goes through
// a circuitbreaker.DatabaseWrapper so a flapping Postgres instance
// degrades registry reads/writes to warnings instead of failing a run (I2).
type DBDriver struct {
	db     *sqlx.DB
	cb     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewDBDriver dials Postgres, wraps it in a circuit breaker and runs the
// schema bootstrap (CREATE TABLE IF NOT EXISTS — no separate migrator;
// the SQL migrator is an external non-goal per spec.md §1).
func NewDBDriver(ctx context.Context, cfg DBConfig, logger *zap.Logger) (*DBDriver, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	cb := circuitbreaker.NewDatabaseWrapper(rawDB, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cb.PingContext(pingCtx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &DBDriver{db: sqlx.NewDb(rawDB, "postgres"), cb: cb, logger: logger}
	if err := d.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	logger.Info("model-hr db driver connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return d, nil
}

func (d *DBDriver) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS model_registry_entries (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			status TEXT NOT NULL,
			provider TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_observations (
			seq BIGSERIAL PRIMARY KEY,
			model_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_observations_model ON model_observations(model_id, seq)`,
		`CREATE TABLE IF NOT EXISTS model_priors (
			model_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_hr_signals (
			seq BIGSERIAL PRIMARY KEY,
			payload JSONB NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_hr_fallback_events (
			seq BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_hr_actions (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			ts TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := d.cb.Execute(ctx, func() error {
			_, err := d.db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func marshalEntry(e types.ModelRegistryEntry) (string, error) {
	data, err := json.Marshal(e)
	return string(data), err
}

func unmarshalEntry(payload []byte) (types.ModelRegistryEntry, error) {
	var e types.ModelRegistryEntry
	err := json.Unmarshal(payload, &e)
	return e, err
}

// ListModels implements Driver.
func (d *DBDriver) ListModels(ctx context.Context, f Filters) ([]types.ModelRegistryEntry, error) {
	query := `SELECT payload FROM model_registry_entries WHERE 1=1`
	args := []interface{}{}
	if !f.IncludeDisabled {
		query += fmt.Sprintf(" AND status <> $%d", len(args)+1)
		args = append(args, string(types.StatusDisabled))
	}
	if f.Provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", len(args)+1)
		args = append(args, f.Provider)
	}
	query += " ORDER BY id ASC"

	var rows *sql.Rows
	if err := d.cb.Execute(ctx, func() error {
		var err error
		rows, err = d.db.QueryContext(ctx, query, args...)
		return err
	}); err != nil {
		d.logger.Warn("model-hr: ListModels query failed, degrading to empty", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []types.ModelRegistryEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		e, err := unmarshalEntry(payload)
		if err != nil {
			d.logger.Warn("model-hr: skipping invalid row", zap.Error(err))
			continue
		}
		if len(f.Status) > 0 && !containsStatus(f.Status, e.Identity.Status) {
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
	return out, nil
}

// GetModel implements Driver: canonical id, then modelId, then alias.
func (d *DBDriver) GetModel(ctx context.Context, id string) (*types.ModelRegistryEntry, error) {
	var payload []byte
	err := d.cb.Execute(ctx, func() error {
		row := d.db.QueryRowContext(ctx, `SELECT payload FROM model_registry_entries WHERE id = $1`, id)
		return row.Scan(&payload)
	})
	if err == nil {
		e, uerr := unmarshalEntry(payload)
		if uerr == nil {
			return &e, nil
		}
	}
	// fall back to scanning for modelId/alias match (rare path; registry is small)
	all, lerr := d.ListModels(ctx, Filters{IncludeDisabled: true})
	if lerr != nil {
		return nil, nil
	}
	for i := range all {
		if all[i].Identity.ModelID == id {
			return &all[i], nil
		}
	}
	for i := range all {
		for _, alias := range all[i].Identity.Aliases {
			if alias == id {
				return &all[i], nil
			}
		}
	}
	return nil, nil
}

// UpsertModel implements Driver.
func (d *DBDriver) UpsertModel(ctx context.Context, entry types.ModelRegistryEntry) error {
	if entry.ID == "" || entry.Identity.Provider == "" || entry.Identity.ModelID == "" {
		return fmt.Errorf("invalid entry: missing id/provider/modelId")
	}
	now := time.Now().UTC()
	if existing, _ := d.GetModel(ctx, entry.ID); existing != nil {
		entry.CreatedAtISO = existing.CreatedAtISO
	} else if entry.CreatedAtISO == "" {
		entry.CreatedAtISO = now.Format(time.RFC3339Nano)
	}
	entry.UpdatedAtISO = now.Format(time.RFC3339Nano)
	payload, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO model_registry_entries (id, payload, status, provider, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET payload = $2, status = $3, provider = $4, updated_at = $6
		`, entry.ID, payload, string(entry.Identity.Status), entry.Identity.Provider, now, now)
		return err
	})
}

// UpsertModelReplacing implements Driver.
func (d *DBDriver) UpsertModelReplacing(ctx context.Context, entry types.ModelRegistryEntry, oldID string) error {
	return d.cb.Execute(ctx, func() error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if oldID != entry.ID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM model_registry_entries WHERE id = $1`, oldID); err != nil {
				tx.Rollback()
				return err
			}
		}
		now := time.Now().UTC()
		entry.UpdatedAtISO = now.Format(time.RFC3339Nano)
		if entry.CreatedAtISO == "" {
			entry.CreatedAtISO = now.Format(time.RFC3339Nano)
		}
		payload, err := marshalEntry(entry)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_registry_entries (id, payload, status, provider, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (id) DO UPDATE SET payload = $2, status = $3, provider = $4, updated_at = $5
		`, entry.ID, payload, string(entry.Identity.Status), entry.Identity.Provider, now); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// DeleteModel implements Driver.
func (d *DBDriver) DeleteModel(ctx context.Context, id string) error {
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM model_registry_entries WHERE id = $1`, id)
		return err
	})
}

// AppendObservation implements Driver, trimming to cap within a transaction.
func (d *DBDriver) AppendObservation(ctx context.Context, obs types.ModelObservation, cap int) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	ts := time.Now().UTC()
	return d.cb.Execute(ctx, func() error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO model_observations (model_id, payload, ts) VALUES ($1, $2, $3)`, obs.ModelID, payload, ts); err != nil {
			tx.Rollback()
			return err
		}
		if cap > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM model_observations WHERE seq IN (
					SELECT seq FROM model_observations WHERE model_id = $1
					ORDER BY seq DESC OFFSET $2
				)`, obs.ModelID, cap); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// ListObservations implements Driver.
func (d *DBDriver) ListObservations(ctx context.Context, modelID string) ([]types.ModelObservation, error) {
	var rows *sql.Rows
	if err := d.cb.Execute(ctx, func() error {
		var err error
		rows, err = d.db.QueryContext(ctx, `SELECT payload FROM model_observations WHERE model_id = $1 ORDER BY seq ASC`, modelID)
		return err
	}); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.ModelObservation
	for rows.Next() {
		var payload []byte
		if rows.Scan(&payload) != nil {
			continue
		}
		var obs types.ModelObservation
		if json.Unmarshal(payload, &obs) == nil {
			out = append(out, obs)
		}
	}
	return out, nil
}

// SavePriors implements Driver.
func (d *DBDriver) SavePriors(ctx context.Context, modelID string, priors []types.PerformancePrior) error {
	payload, err := json.Marshal(priors)
	if err != nil {
		return err
	}
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO model_priors (model_id, payload) VALUES ($1, $2)
			ON CONFLICT (model_id) DO UPDATE SET payload = $2
		`, modelID, payload)
		return err
	})
}

// LoadPriors implements Driver.
func (d *DBDriver) LoadPriors(ctx context.Context, modelID string) ([]types.PerformancePrior, error) {
	var payload []byte
	err := d.cb.Execute(ctx, func() error {
		row := d.db.QueryRowContext(ctx, `SELECT payload FROM model_priors WHERE model_id = $1`, modelID)
		return row.Scan(&payload)
	})
	if err != nil {
		return nil, nil
	}
	var priors []types.PerformancePrior
	if json.Unmarshal(payload, &priors) != nil {
		return nil, nil
	}
	return priors, nil
}

// AppendSignal implements Driver.
func (d *DBDriver) AppendSignal(ctx context.Context, sig types.HrSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `INSERT INTO model_hr_signals (payload, ts) VALUES ($1, $2)`, payload, time.Now().UTC())
		return err
	})
}

// ListSignals implements Driver.
func (d *DBDriver) ListSignals(ctx context.Context, retentionDays int) ([]types.HrSignal, error) {
	query := `SELECT payload FROM model_hr_signals`
	args := []interface{}{}
	if retentionDays > 0 {
		query += ` WHERE ts >= $1`
		args = append(args, time.Now().UTC().AddDate(0, 0, -retentionDays))
	}
	query += ` ORDER BY seq ASC`

	var rows *sql.Rows
	if err := d.cb.Execute(ctx, func() error {
		var err error
		rows, err = d.db.QueryContext(ctx, query, args...)
		return err
	}); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.HrSignal
	for rows.Next() {
		var payload []byte
		if rows.Scan(&payload) != nil {
			continue
		}
		var sig types.HrSignal
		if json.Unmarshal(payload, &sig) == nil {
			out = append(out, sig)
		}
	}
	return out, nil
}

// AppendFallbackEvent implements Driver.
func (d *DBDriver) AppendFallbackEvent(ctx context.Context, tsISO string) error {
	ts, err := time.Parse(time.RFC3339Nano, tsISO)
	if err != nil {
		ts = time.Now().UTC()
	}
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `INSERT INTO model_hr_fallback_events (ts) VALUES ($1)`, ts)
		return err
	})
}

// FallbackCount24h implements Driver.
func (d *DBDriver) FallbackCount24h(ctx context.Context) (int, error) {
	var count int
	err := d.cb.Execute(ctx, func() error {
		row := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM model_hr_fallback_events WHERE ts >= $1`, time.Now().UTC().Add(-24*time.Hour))
		return row.Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// EnqueueAction implements Driver.
func (d *DBDriver) EnqueueAction(ctx context.Context, a types.HrAction) error {
	return d.SaveAction(ctx, a)
}

// ListActions implements Driver.
func (d *DBDriver) ListActions(ctx context.Context, limit int) ([]types.HrAction, error) {
	query := `SELECT payload FROM model_hr_actions ORDER BY ts DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows *sql.Rows
	if err := d.cb.Execute(ctx, func() error {
		var err error
		rows, err = d.db.QueryContext(ctx, query)
		return err
	}); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.HrAction
	for rows.Next() {
		var payload []byte
		if rows.Scan(&payload) != nil {
			continue
		}
		var a types.HrAction
		if json.Unmarshal(payload, &a) == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetAction implements Driver.
func (d *DBDriver) GetAction(ctx context.Context, id string) (*types.HrAction, error) {
	var payload []byte
	err := d.cb.Execute(ctx, func() error {
		row := d.db.QueryRowContext(ctx, `SELECT payload FROM model_hr_actions WHERE id = $1`, id)
		return row.Scan(&payload)
	})
	if err != nil {
		return nil, nil
	}
	var a types.HrAction
	if json.Unmarshal(payload, &a) != nil {
		return nil, nil
	}
	return &a, nil
}

// SaveAction implements Driver (upsert keyed by id).
func (d *DBDriver) SaveAction(ctx context.Context, a types.HrAction) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ts, perr := time.Parse(time.RFC3339Nano, a.TsISO)
	if perr != nil {
		ts = time.Now().UTC()
	}
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO model_hr_actions (id, payload, resolved, ts) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET payload = $2, resolved = $3
		`, a.ID, payload, a.Resolved(), ts)
		return err
	})
}

// TrimResolvedActions implements Driver.
func (d *DBDriver) TrimResolvedActions(ctx context.Context, retentionDays int) error {
	return d.cb.Execute(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			DELETE FROM model_hr_actions WHERE resolved = TRUE AND ts < $1
		`, time.Now().UTC().AddDate(0, 0, -retentionDays))
		return err
	})
}

// Close releases the underlying connection pool.
func (d *DBDriver) Close() error { return d.db.Close() }
