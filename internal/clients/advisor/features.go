package advisor

import (
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/opticut/internal/packing"
)

// Features summarizes an optimization request for the advisory models.
// The field set is stable; the service ignores fields it does not know.
type Features struct {
	Is2D            bool    `json:"is2d"`
	PieceCount      int     `json:"pieceCount"`
	DistinctSizes   int     `json:"distinctSizes"`
	MeanLength      float64 `json:"meanLength"`
	LengthStdDev    float64 `json:"lengthStdDev"`
	MeanArea        float64 `json:"meanArea,omitempty"`
	AreaStdDev      float64 `json:"areaStdDev,omitempty"`
	TotalDemand     float64 `json:"totalDemand"`
	StockVariety    int     `json:"stockVariety"`
	MeanStockLength float64 `json:"meanStockLength"`
	Kerf            float64 `json:"kerf"`
	RotationAllowed bool    `json:"rotationAllowed"`
}

// Extract1D builds the feature vector for a linear cutting request.
// Quantities weight the distributions: ten identical bars count ten times.
func Extract1D(pieces []packing.Piece1D, stocks []packing.Stock1D, opts packing.Options) Features {
	lengths := make([]float64, 0, len(pieces))
	distinct := make(map[float64]struct{}, len(pieces))
	total := 0.0
	for _, p := range pieces {
		distinct[p.Length] = struct{}{}
		for i := 0; i < p.Quantity; i++ {
			lengths = append(lengths, p.Length)
			total += p.Length
		}
	}

	stockLengths := make([]float64, 0, len(stocks))
	for _, s := range stocks {
		stockLengths = append(stockLengths, s.Length)
	}

	return Features{
		PieceCount:      len(lengths),
		DistinctSizes:   len(distinct),
		MeanLength:      meanOrZero(lengths),
		LengthStdDev:    stdDevOrZero(lengths),
		TotalDemand:     total,
		StockVariety:    len(stocks),
		MeanStockLength: meanOrZero(stockLengths),
		Kerf:            opts.Kerf,
	}
}

// Extract2D builds the feature vector for a sheet cutting request.
func Extract2D(pieces []packing.Piece2D, stocks []packing.Stock2D, opts packing.Options) Features {
	lengths := make([]float64, 0, len(pieces))
	areas := make([]float64, 0, len(pieces))
	distinct := make(map[[2]float64]struct{}, len(pieces))
	total := 0.0
	for _, p := range pieces {
		distinct[[2]float64{p.W, p.H}] = struct{}{}
		area := p.W * p.H
		for i := 0; i < p.Quantity; i++ {
			lengths = append(lengths, p.W)
			areas = append(areas, area)
			total += area
		}
	}

	stockAreas := make([]float64, 0, len(stocks))
	for _, s := range stocks {
		stockAreas = append(stockAreas, s.W*s.H)
	}

	return Features{
		Is2D:            true,
		PieceCount:      len(lengths),
		DistinctSizes:   len(distinct),
		MeanLength:      meanOrZero(lengths),
		LengthStdDev:    stdDevOrZero(lengths),
		MeanArea:        meanOrZero(areas),
		AreaStdDev:      stdDevOrZero(areas),
		TotalDemand:     total,
		StockVariety:    len(stocks),
		MeanStockLength: meanOrZero(stockAreas),
		Kerf:            opts.Kerf,
		RotationAllowed: opts.AllowRotation,
	}
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func stdDevOrZero(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
