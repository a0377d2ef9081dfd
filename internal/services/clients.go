package services

import (
	"context"
	"fmt"
)

// Module names used for registry routing.
const (
	ModuleCuttingJob   = "cuttingjob"
	ModuleStock        = "stock"
	ModuleOptimization = "optimization"
)

// Stock type discriminators.
const (
	StockTypeBar   = "BAR_1D"
	StockTypeSheet = "SHEET_2D"
)

// Geometry types carried by cutting job items. BAR_1D items run through the
// linear packer; everything else is treated as a rectangle footprint.
const (
	GeometryBar       = "BAR_1D"
	GeometryRectangle = "RECTANGLE"
	GeometrySquare    = "SQUARE"
	GeometryCircle    = "CIRCLE"
	GeometryPolygon   = "POLYGON"
	GeometryFreeform  = "FREEFORM"
)

// CuttingJobItem is the cross-module view of one line item in a cutting job.
type CuttingJobItem struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	Length         float64 `json:"length"`
	Width          float64 `json:"width"`
	Quantity       int     `json:"quantity"`
	GeometryType   string  `json:"geometryType"`
	CanRotate      bool    `json:"canRotate"`
	GrainDirection string  `json:"grainDirection"`
}

// CuttingJob is the cross-module view of a cutting job and its items.
type CuttingJob struct {
	ID             string           `json:"id"`
	TenantID       *string          `json:"tenantId,omitempty"`
	Name           string           `json:"name"`
	Status         string           `json:"status"`
	MaterialTypeID string           `json:"materialTypeId"`
	Thickness      float64          `json:"thickness"`
	Items          []CuttingJobItem `json:"items"`
}

// StockItem is the cross-module view of one stock record offered to the
// optimizer. Offcuts carry IsFromWaste so pricing can favour them.
type StockItem struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	StockType   string  `json:"stockType"`
	IsFromWaste bool    `json:"isFromWaste"`
}

// StockQuery narrows the candidate pool for an optimization run.
type StockQuery struct {
	MaterialTypeID   string   `json:"materialTypeId"`
	Thickness        float64  `json:"thickness"`
	StockType        string   `json:"stockType,omitempty"`
	SelectedStockIDs []string `json:"selectedStockIds,omitempty"`
}

// CuttingJobClient is the typed façade over the cutting-job service.
type CuttingJobClient struct {
	registry *Registry
}

// NewCuttingJobClient creates a client bound to the registry.
func NewCuttingJobClient(registry *Registry) *CuttingJobClient {
	return &CuttingJobClient{registry: registry}
}

// GetJobWithItems loads a job and all its line items.
func (c *CuttingJobClient) GetJobWithItems(ctx context.Context, jobID string) (*CuttingJob, error) {
	resp := c.registry.Call(ctx, ModuleCuttingJob, "GET", "/cutting-jobs/"+jobID, nil)
	if !resp.Success {
		return nil, resp.Error
	}
	job, ok := resp.Data.(*CuttingJob)
	if !ok {
		return nil, fmt.Errorf("cuttingjob service returned unexpected payload %T", resp.Data)
	}
	return job, nil
}

// StockClient is the typed façade over the stock service.
type StockClient struct {
	registry *Registry
}

// NewStockClient creates a client bound to the registry.
func NewStockClient(registry *Registry) *StockClient {
	return &StockClient{registry: registry}
}

// GetAvailableStock returns the candidate stock pool for a run, offcuts
// first. An explicit SelectedStockIDs list restricts the pool to those rows.
func (c *StockClient) GetAvailableStock(ctx context.Context, query StockQuery) ([]StockItem, error) {
	data := map[string]interface{}{
		"materialTypeId": query.MaterialTypeID,
		"thickness":      query.Thickness,
	}
	if query.StockType != "" {
		data["stockType"] = query.StockType
	}
	if len(query.SelectedStockIDs) > 0 {
		data["selectedStockIds"] = query.SelectedStockIDs
	}
	resp := c.registry.Call(ctx, ModuleStock, "POST", "/stock/available", data)
	if !resp.Success {
		return nil, resp.Error
	}
	items, ok := resp.Data.([]StockItem)
	if !ok {
		return nil, fmt.Errorf("stock service returned unexpected payload %T", resp.Data)
	}
	return items, nil
}

// PlanClient is the typed façade over the optimization module's plan surface,
// used by modules that consume approved plans.
type PlanClient struct {
	registry *Registry
}

// NewPlanClient creates a client bound to the registry.
func NewPlanClient(registry *Registry) *PlanClient {
	return &PlanClient{registry: registry}
}

// GetByID loads one plan.
func (c *PlanClient) GetByID(ctx context.Context, planID string) (interface{}, error) {
	resp := c.registry.Call(ctx, ModuleOptimization, "GET", "/plans/"+planID, nil)
	if !resp.Success {
		return nil, resp.Error
	}
	return resp.Data, nil
}

// GetStockItems loads a plan's per-stock layouts in cutting sequence.
func (c *PlanClient) GetStockItems(ctx context.Context, planID string) (interface{}, error) {
	resp := c.registry.Call(ctx, ModuleOptimization, "GET", "/plans/"+planID+"/stock-items", nil)
	if !resp.Success {
		return nil, resp.Error
	}
	return resp.Data, nil
}

// UpdateStatus transitions a plan to the given status.
func (c *PlanClient) UpdateStatus(ctx context.Context, planID, status string, fields map[string]interface{}) error {
	data := map[string]interface{}{"status": status}
	for k, v := range fields {
		data[k] = v
	}
	resp := c.registry.Call(ctx, ModuleOptimization, "PUT", "/plans/"+planID+"/status", data)
	if !resp.Success {
		return resp.Error
	}
	return nil
}

// ApprovedFilter narrows a GetApproved listing. Zero values mean no filter.
type ApprovedFilter struct {
	ScenarioID string `json:"scenarioId,omitempty"`
	FromDate   string `json:"fromDate,omitempty"`
	ToDate     string `json:"toDate,omitempty"`
}

// GetApproved lists plans in APPROVED status, ready for dispatch.
func (c *PlanClient) GetApproved(ctx context.Context, filter ApprovedFilter) (interface{}, error) {
	data := map[string]interface{}{}
	if filter.ScenarioID != "" {
		data["scenarioId"] = filter.ScenarioID
	}
	if filter.FromDate != "" {
		data["fromDate"] = filter.FromDate
	}
	if filter.ToDate != "" {
		data["toDate"] = filter.ToDate
	}
	resp := c.registry.Call(ctx, ModuleOptimization, "POST", "/plans/approved", data)
	if !resp.Success {
		return nil, resp.Error
	}
	return resp.Data, nil
}
