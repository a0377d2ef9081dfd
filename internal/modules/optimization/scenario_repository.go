package optimization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/tenant"
)

// ScenarioRepository handles scenario persistence. Every query is scoped to
// the tenant carried by the context when one is present; tenant-less rows
// stay visible to tenant-less callers only.
type ScenarioRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewScenarioRepository creates a scenario repository.
func NewScenarioRepository(db *database.DB, log zerolog.Logger) *ScenarioRepository {
	return &ScenarioRepository{
		db:  db,
		log: log.With().Str("repo", "scenario").Logger(),
	}
}

const scenarioColumns = `id, tenant_id, name, cutting_job_id, created_by_id, parameters,
	use_warehouse_stock, use_standard_sizes, selected_stock_ids, status, error,
	created_at, updated_at`

// Create persists a new scenario in PENDING status. A missing id is
// generated; the tenant comes from the context.
func (r *ScenarioRepository) Create(ctx context.Context, s *Scenario) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = ScenarioPending
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if tenantID, ok := tenant.FromContext(ctx); ok {
		s.TenantID = &tenantID
	}

	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	var selected []byte
	if len(s.SelectedStockIDs) > 0 {
		if selected, err = json.Marshal(s.SelectedStockIDs); err != nil {
			return fmt.Errorf("failed to marshal selected stock ids: %w", err)
		}
	}

	_, err = r.db.Exec(`INSERT INTO optimization_scenarios
		(id, tenant_id, name, cutting_job_id, created_by_id, parameters,
		 use_warehouse_stock, use_standard_sizes, selected_stock_ids, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.Name, s.CuttingJobID, s.CreatedByID, string(params),
		s.UseWarehouseStock, s.UseStandardSizes, nullableString(selected), s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scenario: %w", err)
	}

	r.log.Debug().Str("scenarioId", s.ID).Str("cuttingJobId", s.CuttingJobID).Msg("Scenario created")
	return nil
}

// FindByID loads one scenario, SCENARIO_NOT_FOUND when absent or owned by
// another tenant.
func (r *ScenarioRepository) FindByID(ctx context.Context, id string) (*Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM optimization_scenarios WHERE id = ?`
	args := []interface{}{id}
	query, args = tenantScope(ctx, query, args)

	s, err := scanScenario(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, Errf(CodeScenarioNotFound, "scenario %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	return s, nil
}

// FindAll lists scenarios matching the filter, newest first.
func (r *ScenarioRepository) FindAll(ctx context.Context, filter ScenarioFilter) ([]Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM optimization_scenarios WHERE 1=1`
	var args []interface{}
	if filter.CuttingJobID != "" {
		query += ` AND cutting_job_id = ?`
		args = append(args, filter.CuttingJobID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query, args = tenantScope(ctx, query, args)
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []Scenario
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		scenarios = append(scenarios, *s)
	}
	return scenarios, rows.Err()
}

// UpdateStatus moves a scenario along its lifecycle with a conditional
// write: the row is only updated while it still holds the expected status,
// so concurrent writers cannot race past the state machine.
func (r *ScenarioRepository) UpdateStatus(ctx context.Context, id, expected, next string, runError *string) error {
	if err := ValidateScenarioTransition(expected, next); err != nil {
		return err
	}

	query := `UPDATE optimization_scenarios SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []interface{}{next, runError, time.Now().UTC(), id, expected}
	query, args = tenantScope(ctx, query, args)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scenario status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer moved it first.
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return findErr
		}
		return Errf(CodeInvalidTransition, "scenario %s is %s, expected %s", id, current.Status, expected)
	}

	r.log.Debug().Str("scenarioId", id).Str("from", expected).Str("to", next).Msg("Scenario status updated")
	return nil
}

// UpdateParameters overwrites a scenario's parameters. Parameters are
// immutable once the scenario leaves PENDING, enforced by the conditional
// write.
func (r *ScenarioRepository) UpdateParameters(ctx context.Context, id string, params Parameters) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `UPDATE optimization_scenarios SET parameters = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []interface{}{string(payload), time.Now().UTC(), id, ScenarioPending}
	query, args = tenantScope(ctx, query, args)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update parameters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return Errf(CodeInvalidStatus, "scenario %s is not PENDING, parameters are frozen", id)
	}
	return nil
}

// FailStale marks scenarios stuck in RUNNING since before cutoff as FAILED.
// A run abandoned by a crashed process never reports back, so a background
// sweep is the only writer that can unstick it.
func (r *ScenarioRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	msg := "optimization run abandoned"
	result, err := r.db.Exec(`UPDATE optimization_scenarios SET status = ?, error = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		ScenarioFailed, msg, time.Now().UTC(), ScenarioRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale scenarios: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		r.log.Warn().Int64("count", affected).Msg("Stale running scenarios marked as failed")
	}
	return affected, nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanScenario(row scanner) (*Scenario, error) {
	var s Scenario
	var params string
	var selected sql.NullString
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.CuttingJobID, &s.CreatedByID, &params,
		&s.UseWarehouseStock, &s.UseStandardSizes, &selected, &s.Status, &s.Error,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &s.Parameters); err != nil {
		return nil, fmt.Errorf("corrupt scenario parameters: %w", err)
	}
	if selected.Valid && selected.String != "" {
		if err := json.Unmarshal([]byte(selected.String), &s.SelectedStockIDs); err != nil {
			return nil, fmt.Errorf("corrupt selected stock ids: %w", err)
		}
	}
	return &s, nil
}

// tenantScope appends the tenant filter when the context carries a tenant.
// Legacy rows without a tenant stay visible to everyone.
func tenantScope(ctx context.Context, query string, args []interface{}) (string, []interface{}) {
	if tenantID, ok := tenant.FromContext(ctx); ok {
		return query + ` AND (tenant_id = ? OR tenant_id IS NULL)`, append(args, tenantID)
	}
	return query, args
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
