// Package packing implements the deterministic cutting-stock heuristics:
// First-Fit-Decreasing and Best-Fit-Decreasing for 1D bars, Bottom-Left-Fill
// and Guillotine for 2D sheets. Strategies are pure: identical inputs produce
// identical outputs, and cancellation is checked at piece-loop boundaries.
package packing

import (
	"context"

	"github.com/aristath/opticut/internal/geometry"
)

// Recognized algorithm names.
const (
	Algo1DFFD        = "1D_FFD"
	Algo1DBFD        = "1D_BFD"
	Algo2DBottomLeft = "2D_BOTTOM_LEFT"
	Algo2DGuillotine = "2D_GUILLOTINE"
)

// Piece1D is a demanded bar cut. Quantity > 1 expands into individual units.
type Piece1D struct {
	ID          string
	Length      float64
	Quantity    int
	OrderItemID string
}

// Stock1D is a purchasable bar length.
type Stock1D struct {
	ID        string
	Length    float64
	Available int
	UnitPrice float64
}

// Piece2D is a demanded rectangle. Quantity > 1 expands into individual units.
type Piece2D struct {
	ID          string
	W, H        float64
	Quantity    int
	CanRotate   bool
	OrderItemID string
}

// Stock2D is a purchasable sheet.
type Stock2D struct {
	ID        string
	W, H      float64
	Available int
	UnitPrice float64
}

// Options carries the scenario parameters a strategy honors.
type Options struct {
	Kerf           float64
	MinUsableWaste float64
	AllowRotation  bool
	GuillotineOnly bool
}

// Cut is one piece position on a bar.
type Cut struct {
	PieceID string  `json:"pieceId"`
	Offset  float64 `json:"offset"`
	Length  float64 `json:"length"`
}

// Bar is one used stock bar with its cuts.
type Bar struct {
	StockID         string
	StockLength     float64
	Cuts            []Cut
	Waste           float64
	WastePercentage float64
	UsableWaste     float64
}

// Placement is one piece position on a sheet.
type Placement struct {
	PieceID string  `json:"pieceId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`
	Rotated bool    `json:"rotated"`
}

// Sheet is one used stock sheet with its placements.
type Sheet struct {
	StockID         string
	StockW, StockH  float64
	Placements      []Placement
	Waste           float64
	WastePercentage float64
	UsableWaste     float64
}

// Stats summarizes a packing run.
type Stats struct {
	Efficiency float64
}

// Result1D is the output of a 1D strategy.
type Result1D struct {
	Bars     []Bar
	Unplaced []Piece1D
	Stats    Stats
}

// Result2D is the output of a 2D strategy.
type Result2D struct {
	Sheets   []Sheet
	Unplaced []Piece2D
	Stats    Stats
}

// Strategy1D packs bar pieces into bar stock.
type Strategy1D func(ctx context.Context, pieces []Piece1D, stock []Stock1D, opts Options) (*Result1D, error)

// Strategy2D packs rectangle pieces into sheet stock.
type Strategy2D func(ctx context.Context, pieces []Piece2D, stock []Stock2D, opts Options) (*Result2D, error)

// expand1D turns quantities into individual units, one entry per demanded cut.
func expand1D(pieces []Piece1D) []Piece1D {
	var out []Piece1D
	for _, p := range pieces {
		n := p.Quantity
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			unit := p
			unit.Quantity = 1
			out = append(out, unit)
		}
	}
	return out
}

// expand2D turns quantities into individual units.
func expand2D(pieces []Piece2D) []Piece2D {
	var out []Piece2D
	for _, p := range pieces {
		n := p.Quantity
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			unit := p
			unit.Quantity = 1
			out = append(out, unit)
		}
	}
	return out
}

func (s *Sheet) area() float64 {
	return s.StockW * s.StockH
}

// finish1D computes per-bar waste and the overall efficiency.
func finish1D(bars []Bar, unplaced []Piece1D, minUsable float64) *Result1D {
	var totalStock, totalWaste float64
	for i := range bars {
		b := &bars[i]
		used := 0.0
		if n := len(b.Cuts); n > 0 {
			last := b.Cuts[n-1]
			used = last.Offset + last.Length
		}
		b.Waste = b.StockLength - used
		if b.StockLength > 0 {
			b.WastePercentage = b.Waste / b.StockLength * 100
		}
		b.UsableWaste = geometry.UsableWaste1D(b.Waste, minUsable)
		totalStock += b.StockLength
		totalWaste += b.Waste
	}

	efficiency := 100.0
	if totalStock > 0 {
		efficiency = 100 - totalWaste/totalStock*100
	}

	return &Result1D{
		Bars:     bars,
		Unplaced: unplaced,
		Stats:    Stats{Efficiency: efficiency},
	}
}

// finish2D computes per-sheet waste and the overall efficiency.
// Usable waste per sheet is the largest remaining free region when it clears
// the threshold; smaller remnants count as scrap.
func finish2D(sheets []sheetState, unplaced []Piece2D, minUsable float64) *Result2D {
	out := make([]Sheet, 0, len(sheets))
	var totalStock, totalWaste float64

	for _, st := range sheets {
		s := st.sheet
		placed := 0.0
		for _, p := range s.Placements {
			placed += p.W * p.H
		}
		s.Waste = s.area() - placed
		if s.area() > 0 {
			s.WastePercentage = s.Waste / s.area() * 100
		}
		largest := 0.0
		for _, fr := range st.freeRects {
			if fr.Area() > largest {
				largest = fr.Area()
			}
		}
		s.UsableWaste = geometry.UsableWaste2D(largest, minUsable)

		totalStock += s.area()
		totalWaste += s.Waste
		out = append(out, s)
	}

	efficiency := 100.0
	if totalStock > 0 {
		efficiency = 100 - totalWaste/totalStock*100
	}

	return &Result2D{
		Sheets:   out,
		Unplaced: unplaced,
		Stats:    Stats{Efficiency: efficiency},
	}
}
