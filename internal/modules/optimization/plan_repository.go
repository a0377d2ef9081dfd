package optimization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/tenant"
)

// planNumberAttempts bounds retries on plan-number collisions.
const planNumberAttempts = 5

// PlanRepository handles plan and per-stock layout persistence.
type PlanRepository struct {
	db      *database.DB
	log     zerolog.Logger
	counter atomic.Uint64
	now     func() time.Time
}

// NewPlanRepository creates a plan repository.
func NewPlanRepository(db *database.DB, log zerolog.Logger) *PlanRepository {
	return &PlanRepository{
		db:  db,
		log: log.With().Str("repo", "plan").Logger(),
		now: time.Now,
	}
}

const planColumns = `id, tenant_id, plan_number, scenario_id, total_waste, waste_percentage,
	stock_used_count, estimated_time, estimated_cost, predicted_waste_pct, status,
	approved_by_id, approved_at, machine_id, created_at, updated_at`

// nextPlanNumber produces PLN-<ms-epoch>-<counter>. Uniqueness is enforced
// by the database index; Create retries with the next counter on conflict.
func (r *PlanRepository) nextPlanNumber() string {
	return fmt.Sprintf("PLN-%d-%d", r.now().UnixMilli(), r.counter.Add(1))
}

// Create persists a DRAFT plan and its stock layouts in one transaction.
// Sequences are assigned dense from 1 in layout order.
func (r *PlanRepository) Create(ctx context.Context, scenarioID string, data *PlanData) (*Plan, error) {
	plan := &Plan{
		ID:                  uuid.NewString(),
		ScenarioID:          scenarioID,
		TotalWaste:          data.TotalWaste,
		WastePercentage:     data.WastePercentage,
		StockUsedCount:      data.StockUsedCount,
		EstimatedTimeMillis: data.EstimatedTimeMillis,
		EstimatedCost:       data.EstimatedCost,
		PredictedWastePct:   data.PredictedWastePct,
		Status:              PlanDraft,
	}
	if tenantID, ok := tenant.FromContext(ctx); ok {
		plan.TenantID = &tenantID
	}

	var lastErr error
	for attempt := 0; attempt < planNumberAttempts; attempt++ {
		plan.PlanNumber = r.nextPlanNumber()
		now := r.now().UTC()
		plan.CreatedAt = now
		plan.UpdatedAt = now

		err := r.insertPlan(plan, data.Layouts)
		if err == nil {
			r.log.Info().Str("planId", plan.ID).Str("planNumber", plan.PlanNumber).
				Int("stockUsed", plan.StockUsedCount).Msg("Plan created")
			return plan, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, Errf(CodeConflict, "plan number collision persisted after %d attempts: %v", planNumberAttempts, lastErr)
}

func (r *PlanRepository) insertPlan(plan *Plan, layouts []StockLayout) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cost interface{}
	if plan.EstimatedCost != nil {
		cost = plan.EstimatedCost.String()
	}
	_, err = tx.Exec(`INSERT INTO cutting_plans
		(id, tenant_id, plan_number, scenario_id, total_waste, waste_percentage,
		 stock_used_count, estimated_time, estimated_cost, predicted_waste_pct, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.TenantID, plan.PlanNumber, plan.ScenarioID, plan.TotalWaste, plan.WastePercentage,
		plan.StockUsedCount, plan.EstimatedTimeMillis, cost, plan.PredictedWastePct, plan.Status,
		plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for i, layout := range layouts {
		layoutJSON, err := json.Marshal(layout.Layout)
		if err != nil {
			return fmt.Errorf("failed to marshal layout: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO cutting_plan_stocks
			(id, cutting_plan_id, stock_item_id, sequence, waste, waste_percentage, layout_data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), plan.ID, layout.StockItemID, i+1, layout.Waste, layout.WastePercentage, string(layoutJSON))
		if err != nil {
			return fmt.Errorf("failed to insert plan stock %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// FindByID loads one plan, PLAN_NOT_FOUND when absent.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM cutting_plans WHERE id = ?`
	args := []interface{}{id}
	query, args = tenantScope(ctx, query, args)

	plan, err := scanPlan(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, Errf(CodePlanNotFound, "plan %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return plan, nil
}

// FindAll lists plans matching the filter, newest first.
func (r *PlanRepository) FindAll(ctx context.Context, filter PlanFilter) ([]Plan, error) {
	query := `SELECT ` + planColumns + ` FROM cutting_plans WHERE 1=1`
	var args []interface{}
	if filter.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, filter.ScenarioID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.FromDate != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.FromDate.UTC())
	}
	if filter.ToDate != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.ToDate.UTC())
	}
	query, args = tenantScope(ctx, query, args)
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// UpdateStatus transitions a plan with a conditional write. Approval stamps
// approved_by_id and approved_at; production start may attach a machine.
func (r *PlanRepository) UpdateStatus(ctx context.Context, id, next string, approvedByID, machineID *string) (*Plan, error) {
	plan, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidatePlanTransition(plan.Status, next); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{next, now}
	if next == PlanApproved {
		sets = append(sets, "approved_by_id = ?", "approved_at = ?")
		args = append(args, approvedByID, now)
	}
	if machineID != nil {
		sets = append(sets, "machine_id = ?")
		args = append(args, machineID)
	}

	query := `UPDATE cutting_plans SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, plan.Status)
	query, args = tenantScope(ctx, query, args)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, Errf(CodeInvalidStatus, "plan %s changed status concurrently", id)
	}

	r.log.Info().Str("planId", id).Str("from", plan.Status).Str("to", next).Msg("Plan status updated")
	return r.FindByID(ctx, id)
}

// GetStockItems loads a plan's per-stock layouts in cutting sequence.
func (r *PlanRepository) GetStockItems(ctx context.Context, planID string) ([]PlanStock, error) {
	// Existence check applies the tenant scope.
	if _, err := r.FindByID(ctx, planID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT id, cutting_plan_id, stock_item_id, sequence, waste, waste_percentage, layout_data
		FROM cutting_plan_stocks WHERE cutting_plan_id = ? ORDER BY sequence`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan stocks: %w", err)
	}
	defer rows.Close()

	var stocks []PlanStock
	for rows.Next() {
		var ps PlanStock
		var layoutJSON string
		if err := rows.Scan(&ps.ID, &ps.PlanID, &ps.StockItemID, &ps.Sequence, &ps.Waste, &ps.WastePercentage, &layoutJSON); err != nil {
			return nil, fmt.Errorf("failed to scan plan stock: %w", err)
		}
		if err := json.Unmarshal([]byte(layoutJSON), &ps.Layout); err != nil {
			return nil, fmt.Errorf("corrupt layout data: %w", err)
		}
		stocks = append(stocks, ps)
	}
	return stocks, rows.Err()
}

func scanPlan(row scanner) (*Plan, error) {
	var plan Plan
	var cost sql.NullString
	err := row.Scan(&plan.ID, &plan.TenantID, &plan.PlanNumber, &plan.ScenarioID, &plan.TotalWaste,
		&plan.WastePercentage, &plan.StockUsedCount, &plan.EstimatedTimeMillis, &cost,
		&plan.PredictedWastePct, &plan.Status, &plan.ApprovedByID, &plan.ApprovedAt,
		&plan.MachineID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cost.Valid {
		parsed, err := parseDecimal(cost.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt estimated cost: %w", err)
		}
		plan.EstimatedCost = parsed
	}
	return &plan, nil
}

func parseDecimal(s string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint violation")
}
