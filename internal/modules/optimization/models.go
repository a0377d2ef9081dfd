// Package optimization owns the scenario → plan lifecycle: scenarios carry
// the parameters of a packing run, the engine executes it, and the resulting
// plan records the layouts the shop floor will cut.
package optimization

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/opticut/internal/packing"
)

// Scenario statuses.
const (
	ScenarioPending   = "PENDING"
	ScenarioRunning   = "RUNNING"
	ScenarioCompleted = "COMPLETED"
	ScenarioFailed    = "FAILED"
)

// Plan statuses.
const (
	PlanDraft        = "DRAFT"
	PlanApproved     = "APPROVED"
	PlanInProduction = "IN_PRODUCTION"
	PlanCompleted    = "COMPLETED"
	PlanCancelled    = "CANCELLED"
)

// Geometry discriminators for layout data.
const (
	LayoutType1D = "1D"
	LayoutType2D = "2D"
)

// Parameters is a scenario's run configuration. It is immutable once the
// scenario leaves PENDING. Nil fields mean "use the configured default";
// an explicit zero kerf is a valid setting and is honored as-is.
type Parameters struct {
	Algorithm      string   `json:"algorithm,omitempty"`
	Kerf           *float64 `json:"kerf,omitempty"`
	MinUsableWaste *float64 `json:"minUsableWaste,omitempty"`
	AllowRotation  *bool    `json:"allowRotation,omitempty"`
}

// Scenario binds a parameter set to one cutting job.
type Scenario struct {
	ID                string     `json:"id"`
	TenantID          *string    `json:"tenantId,omitempty"`
	Name              string     `json:"name"`
	CuttingJobID      string     `json:"cuttingJobId"`
	CreatedByID       string     `json:"createdById"`
	Parameters        Parameters `json:"parameters"`
	UseWarehouseStock bool       `json:"useWarehouseStock"`
	UseStandardSizes  bool       `json:"useStandardSizes"`
	SelectedStockIDs  []string   `json:"selectedStockIds,omitempty"`
	Status            string     `json:"status"`
	Error             *string    `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Plan is the persisted result of one completed run.
type Plan struct {
	ID                  string           `json:"id"`
	TenantID            *string          `json:"tenantId,omitempty"`
	PlanNumber          string           `json:"planNumber"`
	ScenarioID          string           `json:"scenarioId"`
	TotalWaste          float64          `json:"totalWaste"`
	WastePercentage     float64          `json:"wastePercentage"`
	StockUsedCount      int              `json:"stockUsedCount"`
	EstimatedTimeMillis *int64           `json:"estimatedTimeMillis,omitempty"`
	EstimatedCost       *decimal.Decimal `json:"estimatedCost,omitempty"`
	PredictedWastePct   *float64         `json:"predictedWastePct,omitempty"`
	Status              string           `json:"status"`
	ApprovedByID        *string          `json:"approvedById,omitempty"`
	ApprovedAt          *time.Time       `json:"approvedAt,omitempty"`
	MachineID           *string          `json:"machineId,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Layout is the discriminated per-stock layout payload. Type selects which
// fields are meaningful.
type Layout struct {
	Type        string              `json:"type"`
	StockLength float64             `json:"stockLength,omitempty"`
	StockWidth  float64             `json:"stockWidth,omitempty"`
	StockHeight float64             `json:"stockHeight,omitempty"`
	Cuts        []packing.Cut       `json:"cuts,omitempty"`
	Placements  []packing.Placement `json:"placements,omitempty"`
	UsableWaste float64             `json:"usableWaste,omitempty"`
}

// PlanStock is one stock unit's placement record within a plan. Sequences
// are dense from 1 in cutting order.
type PlanStock struct {
	ID              string  `json:"id"`
	PlanID          string  `json:"planId"`
	StockItemID     string  `json:"stockItemId"`
	Sequence        int     `json:"sequence"`
	Waste           float64 `json:"waste"`
	WastePercentage float64 `json:"wastePercentage"`
	Layout          Layout  `json:"layoutData"`
}

// StockLayout pairs a stock item with its computed layout before the plan
// is persisted.
type StockLayout struct {
	StockItemID     string  `json:"stockItemId"`
	Waste           float64 `json:"waste"`
	WastePercentage float64 `json:"wastePercentage"`
	Layout          Layout  `json:"layoutData"`
}

// PlanData is the engine's computed output, ready for persistence.
type PlanData struct {
	Algorithm           string           `json:"algorithm"`
	TotalWaste          float64          `json:"totalWaste"`
	WastePercentage     float64          `json:"wastePercentage"`
	Efficiency          float64          `json:"efficiency"`
	StockUsedCount      int              `json:"stockUsedCount"`
	UnplacedCount       int              `json:"unplacedCount"`
	Layouts             []StockLayout    `json:"layouts"`
	EstimatedTimeMillis *int64           `json:"estimatedTimeMillis,omitempty"`
	EstimatedCost       *decimal.Decimal `json:"estimatedCost,omitempty"`
	PredictedWastePct   *float64         `json:"predictedWastePct,omitempty"`
	ModelVersion        string           `json:"modelVersion,omitempty"`
}

// RunResult is the engine's operation envelope: either planData or an error.
type RunResult struct {
	Success  bool      `json:"success"`
	PlanData *PlanData `json:"planData,omitempty"`
	Error    *Error    `json:"error,omitempty"`
}

// ScenarioFilter narrows scenario listings. Zero values mean no filter.
type ScenarioFilter struct {
	CuttingJobID string
	Status       string
}

// PlanFilter narrows plan listings. Zero values mean no filter.
type PlanFilter struct {
	ScenarioID string
	Status     string
	FromDate   *time.Time
	ToDate     *time.Time
}
