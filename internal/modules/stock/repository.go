// Package stock owns the inventory the optimizer draws from: purchasable
// bars and sheets plus reusable offcuts returned from earlier runs.
package stock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/tenant"
)

// Item is a stock row. Quantity minus ReservedQty is what the optimizer
// may plan against.
type Item struct {
	ID             string    `json:"id"`
	TenantID       *string   `json:"tenantId,omitempty"`
	Label          string    `json:"label"`
	MaterialTypeID string    `json:"materialTypeId"`
	StockType      string    `json:"stockType"`
	Length         float64   `json:"length"`
	Width          float64   `json:"width"`
	Thickness      float64   `json:"thickness"`
	Quantity       int       `json:"quantity"`
	ReservedQty    int       `json:"reservedQty"`
	UnitPrice      float64   `json:"unitPrice"`
	IsFromWaste    bool      `json:"isFromWaste"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Repository handles stock persistence.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a stock repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "stock").Logger()}
}

const itemColumns = `id, tenant_id, label, material_type_id, stock_type, length, width,
	thickness, quantity, reserved_qty, unit_price, is_from_waste, version, created_at`

// Create persists a stock item.
func (r *Repository) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now().UTC()
	if tenantID, ok := tenant.FromContext(ctx); ok {
		item.TenantID = &tenantID
	}

	_, err := r.db.Exec(`INSERT INTO stock_items
		(id, tenant_id, label, material_type_id, stock_type, length, width, thickness,
		 quantity, reserved_qty, unit_price, is_from_waste, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ID, item.TenantID, item.Label, item.MaterialTypeID, item.StockType,
		item.Length, item.Width, item.Thickness, item.Quantity, item.ReservedQty,
		item.UnitPrice, item.IsFromWaste, item.CreatedAt, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert stock item: %w", err)
	}
	return nil
}

// FindAvailable returns the candidate pool for an optimization run:
// non-deleted rows of the right material, thickness and type with unreserved
// quantity remaining. Offcuts sort first so reclaimed waste is consumed
// before fresh stock, then cheaper before pricier.
func (r *Repository) FindAvailable(ctx context.Context, query services.StockQuery) ([]Item, error) {
	sqlQuery := `SELECT ` + itemColumns + ` FROM stock_items
		WHERE deleted_at IS NULL
		  AND material_type_id = ?
		  AND thickness = ?
		  AND quantity - reserved_qty > 0`
	args := []interface{}{query.MaterialTypeID, query.Thickness}

	if query.StockType != "" {
		sqlQuery += ` AND stock_type = ?`
		args = append(args, query.StockType)
	}
	if len(query.SelectedStockIDs) > 0 {
		placeholders := strings.Repeat("?,", len(query.SelectedStockIDs))
		sqlQuery += ` AND id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range query.SelectedStockIDs {
			args = append(args, id)
		}
	}
	if tenantID, ok := tenant.FromContext(ctx); ok {
		sqlQuery += ` AND (tenant_id = ? OR tenant_id IS NULL)`
		args = append(args, tenantID)
	}
	sqlQuery += ` ORDER BY is_from_waste DESC, unit_price ASC, length ASC, id ASC`

	rows, err := r.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Label, &item.MaterialTypeID,
			&item.StockType, &item.Length, &item.Width, &item.Thickness, &item.Quantity,
			&item.ReservedQty, &item.UnitPrice, &item.IsFromWaste, &item.Version, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ErrStale is returned by Reserve when another writer won the version race.
var ErrStale = fmt.Errorf("stock item was modified concurrently")

// Reserve marks qty units as reserved using optimistic locking on the
// version column. A concurrent modification returns ErrStale; the caller
// re-reads and retries.
func (r *Repository) Reserve(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve quantity must be positive")
	}

	var version, quantity, reserved int
	query := `SELECT version, quantity, reserved_qty FROM stock_items WHERE id = ? AND deleted_at IS NULL`
	args := []interface{}{id}
	if tenantID, ok := tenant.FromContext(ctx); ok {
		query += ` AND (tenant_id = ? OR tenant_id IS NULL)`
		args = append(args, tenantID)
	}
	err := r.db.QueryRow(query, args...).Scan(&version, &quantity, &reserved)
	if err == sql.ErrNoRows {
		return fmt.Errorf("stock item %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load stock item: %w", err)
	}
	if reserved+qty > quantity {
		return fmt.Errorf("insufficient stock: %d available, %d requested", quantity-reserved, qty)
	}

	result, err := r.db.Exec(`UPDATE stock_items
		SET reserved_qty = reserved_qty + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		qty, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStale
	}
	return nil
}

// Release undoes a reservation, clamping at zero.
func (r *Repository) Release(ctx context.Context, id string, qty int) error {
	_, err := r.db.Exec(`UPDATE stock_items
		SET reserved_qty = MAX(0, reserved_qty - ?), version = version + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		qty, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return nil
}

// ReturnOffcut records a reusable offcut as new stock, priced at zero. The
// source item supplies material, thickness and type.
func (r *Repository) ReturnOffcut(ctx context.Context, sourceID string, length, width float64) (*Item, error) {
	var source Item
	err := r.db.QueryRow(`SELECT `+itemColumns+` FROM stock_items WHERE id = ?`, sourceID).
		Scan(&source.ID, &source.TenantID, &source.Label, &source.MaterialTypeID,
			&source.StockType, &source.Length, &source.Width, &source.Thickness, &source.Quantity,
			&source.ReservedQty, &source.UnitPrice, &source.IsFromWaste, &source.Version, &source.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source stock item %s not found", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source stock item: %w", err)
	}

	offcut := &Item{
		Label:          source.Label + " (offcut)",
		MaterialTypeID: source.MaterialTypeID,
		StockType:      source.StockType,
		Length:         length,
		Width:          width,
		Thickness:      source.Thickness,
		Quantity:       1,
		UnitPrice:      0,
		IsFromWaste:    true,
		TenantID:       source.TenantID,
	}
	if err := r.Create(ctx, offcut); err != nil {
		return nil, err
	}
	r.log.Debug().Str("sourceId", sourceID).Str("offcutId", offcut.ID).
		Float64("length", length).Msg("Offcut returned to stock")
	return offcut, nil
}
