// Package cuttingjob stores the piece lists that optimization runs consume.
package cuttingjob

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/tenant"
)

// Job statuses. A job moves forward as scenarios run against it and plans
// reach the shop floor.
const (
	StatusPending      = "PENDING"
	StatusOptimizing   = "OPTIMIZING"
	StatusOptimized    = "OPTIMIZED"
	StatusInProduction = "IN_PRODUCTION"
	StatusCompleted    = "COMPLETED"
)

// Repository handles cutting job persistence.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a cutting job repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "cuttingjob").Logger()}
}

// Create persists a job and its items in one transaction.
func (r *Repository) Create(ctx context.Context, job *services.CuttingJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if tenantID, ok := tenant.FromContext(ctx); ok {
		job.TenantID = &tenantID
	}
	now := time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO cutting_jobs
		(id, tenant_id, name, material_type_id, thickness, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.Name, job.MaterialTypeID, job.Thickness, job.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert cutting job: %w", err)
	}

	for i := range job.Items {
		item := &job.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.GrainDirection == "" {
			item.GrainDirection = "none"
		}
		_, err = tx.Exec(`INSERT INTO cutting_job_items
			(id, cutting_job_id, label, geometry_type, length, width, quantity, can_rotate, grain_direction)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, job.ID, item.Label, item.GeometryType, item.Length, item.Width,
			item.Quantity, item.CanRotate, item.GrainDirection)
		if err != nil {
			return fmt.Errorf("failed to insert cutting job item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cutting job: %w", err)
	}
	return nil
}

// FindByID loads a job with its items.
func (r *Repository) FindByID(ctx context.Context, id string) (*services.CuttingJob, error) {
	query := `SELECT id, tenant_id, name, material_type_id, thickness, status
		FROM cutting_jobs WHERE id = ? AND deleted_at IS NULL`
	args := []interface{}{id}
	if tenantID, ok := tenant.FromContext(ctx); ok {
		query += ` AND (tenant_id = ? OR tenant_id IS NULL)`
		args = append(args, tenantID)
	}

	var job services.CuttingJob
	err := r.db.QueryRow(query, args...).Scan(&job.ID, &job.TenantID, &job.Name,
		&job.MaterialTypeID, &job.Thickness, &job.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cutting job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cutting job: %w", err)
	}

	rows, err := r.db.Query(`SELECT id, label, geometry_type, length, width, quantity, can_rotate, grain_direction
		FROM cutting_job_items WHERE cutting_job_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query cutting job items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item services.CuttingJobItem
		if err := rows.Scan(&item.ID, &item.Label, &item.GeometryType, &item.Length,
			&item.Width, &item.Quantity, &item.CanRotate, &item.GrainDirection); err != nil {
			return nil, fmt.Errorf("failed to scan cutting job item: %w", err)
		}
		job.Items = append(job.Items, item)
	}
	return &job, rows.Err()
}

// UpdateStatus moves a job to the given status.
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusPending, StatusOptimizing, StatusOptimized, StatusInProduction, StatusCompleted:
	default:
		return fmt.Errorf("unknown cutting job status: %s", status)
	}

	result, err := r.db.Exec(`UPDATE cutting_jobs SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update cutting job status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cutting job %s not found", id)
	}
	r.log.Debug().Str("jobId", id).Str("status", status).Msg("Cutting job status updated")
	return nil
}
