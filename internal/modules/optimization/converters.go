package optimization

import (
	"github.com/aristath/opticut/internal/geometry"
	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/services"
)

// Converters between domain records and the minimal shapes the packing
// strategies consume. All functions here are pure and total: nullable
// dimensions coerce to zero and never panic.

// Is1DJob classifies a job by its first item's geometry. Jobs are
// homogeneous, so the first item decides the whole run.
func Is1DJob(job *services.CuttingJob) bool {
	if len(job.Items) == 0 {
		return true
	}
	return job.Items[0].GeometryType == services.GeometryBar
}

// Pieces1DFrom projects job items into linear piece records.
func Pieces1DFrom(job *services.CuttingJob) []packing.Piece1D {
	pieces := make([]packing.Piece1D, 0, len(job.Items))
	for _, item := range job.Items {
		pieces = append(pieces, packing.Piece1D{
			ID:          item.ID,
			Length:      nonNegative(item.Length),
			Quantity:    item.Quantity,
			OrderItemID: item.ID,
		})
	}
	return pieces
}

// Pieces2DFrom projects job items into rectangle records. Piece-level
// rotation requires both the item flag and a free grain direction; the
// scenario-level switch is applied by the strategy.
func Pieces2DFrom(job *services.CuttingJob) []packing.Piece2D {
	pieces := make([]packing.Piece2D, 0, len(job.Items))
	for _, item := range job.Items {
		pieces = append(pieces, packing.Piece2D{
			ID:          item.ID,
			W:           nonNegative(item.Length),
			H:           nonNegative(item.Width),
			Quantity:    item.Quantity,
			CanRotate:   geometry.Rotatable(item.CanRotate, true, item.GrainDirection),
			OrderItemID: item.ID,
		})
	}
	return pieces
}

// Stock1DFrom filters bar stock and projects it for the linear strategies.
func Stock1DFrom(items []services.StockItem) []packing.Stock1D {
	out := make([]packing.Stock1D, 0, len(items))
	for _, item := range items {
		if item.StockType != services.StockTypeBar {
			continue
		}
		out = append(out, packing.Stock1D{
			ID:        item.ID,
			Length:    nonNegative(item.Length),
			Available: item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}

// Stock2DFrom filters sheet stock and projects it for the 2D strategies.
func Stock2DFrom(items []services.StockItem) []packing.Stock2D {
	out := make([]packing.Stock2D, 0, len(items))
	for _, item := range items {
		if item.StockType != services.StockTypeSheet {
			continue
		}
		out = append(out, packing.Stock2D{
			ID:        item.ID,
			W:         nonNegative(item.Length),
			H:         nonNegative(item.Width),
			Available: item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}

// LayoutsFrom1D lifts a linear packing result into persistable layouts,
// one per used bar in cutting order.
func LayoutsFrom1D(result *packing.Result1D) []StockLayout {
	layouts := make([]StockLayout, 0, len(result.Bars))
	for _, bar := range result.Bars {
		layouts = append(layouts, StockLayout{
			StockItemID:     bar.StockID,
			Waste:           bar.Waste,
			WastePercentage: bar.WastePercentage,
			Layout: Layout{
				Type:        LayoutType1D,
				StockLength: bar.StockLength,
				Cuts:        bar.Cuts,
				UsableWaste: bar.UsableWaste,
			},
		})
	}
	return layouts
}

// LayoutsFrom2D lifts a sheet packing result into persistable layouts.
func LayoutsFrom2D(result *packing.Result2D) []StockLayout {
	layouts := make([]StockLayout, 0, len(result.Sheets))
	for _, sheet := range result.Sheets {
		layouts = append(layouts, StockLayout{
			StockItemID:     sheet.StockID,
			Waste:           sheet.Waste,
			WastePercentage: sheet.WastePercentage,
			Layout: Layout{
				Type:        LayoutType2D,
				StockWidth:  sheet.StockW,
				StockHeight: sheet.StockH,
				Placements:  sheet.Placements,
				UsableWaste: sheet.UsableWaste,
			},
		})
	}
	return layouts
}

// PlanDataFrom1D aggregates a linear result into plan-level statistics.
func PlanDataFrom1D(algorithm string, result *packing.Result1D) *PlanData {
	var totalStock, totalWaste float64
	for _, bar := range result.Bars {
		totalStock += bar.StockLength
		totalWaste += bar.Waste
	}
	return planData(algorithm, totalStock, totalWaste, len(result.Bars), len(result.Unplaced), LayoutsFrom1D(result))
}

// PlanDataFrom2D aggregates a sheet result into plan-level statistics.
func PlanDataFrom2D(algorithm string, result *packing.Result2D) *PlanData {
	var totalStock, totalWaste float64
	for _, sheet := range result.Sheets {
		totalStock += sheet.StockW * sheet.StockH
		totalWaste += sheet.Waste
	}
	return planData(algorithm, totalStock, totalWaste, len(result.Sheets), len(result.Unplaced), LayoutsFrom2D(result))
}

func planData(algorithm string, totalStock, totalWaste float64, used, unplaced int, layouts []StockLayout) *PlanData {
	wastePct := 0.0
	if totalStock > 0 {
		wastePct = totalWaste / totalStock * 100
	}
	return &PlanData{
		Algorithm:       algorithm,
		TotalWaste:      totalWaste,
		WastePercentage: wastePct,
		Efficiency:      100 - wastePct,
		StockUsedCount:  used,
		UnplacedCount:   unplaced,
		Layouts:         layouts,
	}
}

// Pieces1DFromLayouts recovers the placed piece multiset from layouts,
// used to cross-check conversions.
func Pieces1DFromLayouts(layouts []StockLayout) []packing.Piece1D {
	var pieces []packing.Piece1D
	for _, layout := range layouts {
		for _, cut := range layout.Layout.Cuts {
			pieces = append(pieces, packing.Piece1D{
				ID:       cut.PieceID,
				Length:   cut.Length,
				Quantity: 1,
			})
		}
	}
	return pieces
}

// Pieces2DFromLayouts recovers the placed piece multiset from layouts.
// Rotated placements are unrotated back to the original footprint.
func Pieces2DFromLayouts(layouts []StockLayout) []packing.Piece2D {
	var pieces []packing.Piece2D
	for _, layout := range layouts {
		for _, p := range layout.Layout.Placements {
			w, h := p.W, p.H
			if p.Rotated {
				w, h = h, w
			}
			pieces = append(pieces, packing.Piece2D{
				ID:       p.PieceID,
				W:        w,
				H:        h,
				Quantity: 1,
			})
		}
	}
	return pieces
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
