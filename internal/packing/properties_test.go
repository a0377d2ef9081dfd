package packing

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestOneDimProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pieceGen := gen.SliceOfN(5, gen.IntRange(50, 1500))
	stockGen := gen.IntRange(1000, 4000)
	kerfGen := gen.IntRange(0, 20)

	for name, strategy := range map[string]Strategy1D{"FFD": FirstFitDecreasing, "BFD": BestFitDecreasing} {
		strategy := strategy

		properties.Property(name+": every expanded piece is placed or unplaced", prop.ForAll(
			func(lengths []int, stockLen, kerf int) bool {
				result := run1D(strategy, lengths, stockLen, kerf)
				placed := 0
				for _, b := range result.Bars {
					placed += len(b.Cuts)
				}
				return placed+len(result.Unplaced) == len(lengths)
			},
			pieceGen, stockGen, kerfGen,
		))

		properties.Property(name+": length conservation per bar", prop.ForAll(
			func(lengths []int, stockLen, kerf int) bool {
				result := run1D(strategy, lengths, stockLen, kerf)
				for _, b := range result.Bars {
					used := 0.0
					for _, c := range b.Cuts {
						used += c.Length
					}
					kerfBands := float64(kerf) * float64(len(b.Cuts)-1)
					if math.Abs(used+kerfBands+b.Waste-b.StockLength) > 1 {
						return false
					}
				}
				return true
			},
			pieceGen, stockGen, kerfGen,
		))

		properties.Property(name+": waste percentage within bounds", prop.ForAll(
			func(lengths []int, stockLen, kerf int) bool {
				result := run1D(strategy, lengths, stockLen, kerf)
				for _, b := range result.Bars {
					if b.WastePercentage < 0 || b.WastePercentage > 100 {
						return false
					}
				}
				return result.Stats.Efficiency >= 0 && result.Stats.Efficiency <= 100
			},
			pieceGen, stockGen, kerfGen,
		))

		properties.Property(name+": cuts never overlap and stay in the bar", prop.ForAll(
			func(lengths []int, stockLen, kerf int) bool {
				result := run1D(strategy, lengths, stockLen, kerf)
				for _, b := range result.Bars {
					end := 0.0
					for i, c := range b.Cuts {
						if i > 0 && c.Offset < end+float64(kerf) {
							return false
						}
						if c.Offset+c.Length > b.StockLength {
							return false
						}
						end = c.Offset + c.Length
					}
				}
				return true
			},
			pieceGen, stockGen, kerfGen,
		))
	}

	properties.TestingRun(t)
}

func run1D(strategy Strategy1D, lengths []int, stockLen, kerf int) *Result1D {
	pieces := make([]Piece1D, 0, len(lengths))
	for i, l := range lengths {
		pieces = append(pieces, Piece1D{ID: string(rune('a' + i)), Length: float64(l), Quantity: 1})
	}
	stock := []Stock1D{{ID: "S", Length: float64(stockLen), Available: len(lengths)}}

	result, err := strategy(context.Background(), pieces, stock, Options{
		Kerf:           float64(kerf),
		MinUsableWaste: 50,
	})
	if err != nil {
		panic(err)
	}
	return result
}

func TestTwoDimProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	dimGen := gen.SliceOfN(4, gen.IntRange(100, 900))
	kerfGen := gen.IntRange(0, 20)
	rotGen := gen.Bool()

	for name, strategy := range map[string]Strategy2D{"BottomLeft": BottomLeftFill, "Guillotine": GuillotinePack} {
		strategy := strategy

		properties.Property(name+": placements stay inside the sheet", prop.ForAll(
			func(ws, hs []int, kerf int, rotate bool) bool {
				result := run2D(strategy, ws, hs, kerf, rotate)
				for _, s := range result.Sheets {
					for _, p := range s.Placements {
						if p.X < 0 || p.Y < 0 || p.X+p.W > s.StockW || p.Y+p.H > s.StockH {
							return false
						}
					}
				}
				return true
			},
			dimGen, dimGen, kerfGen, rotGen,
		))

		properties.Property(name+": kerf separation on at least one axis", prop.ForAll(
			func(ws, hs []int, kerf int, rotate bool) bool {
				result := run2D(strategy, ws, hs, kerf, rotate)
				k := float64(kerf)
				for _, s := range result.Sheets {
					for i := 0; i < len(s.Placements); i++ {
						for j := i + 1; j < len(s.Placements); j++ {
							a, b := s.Placements[i], s.Placements[j]
							sepX := b.X-(a.X+a.W) >= k-1e-9 || a.X-(b.X+b.W) >= k-1e-9
							sepY := b.Y-(a.Y+a.H) >= k-1e-9 || a.Y-(b.Y+b.H) >= k-1e-9
							if !sepX && !sepY {
								return false
							}
						}
					}
				}
				return true
			},
			dimGen, dimGen, kerfGen, rotGen,
		))

		properties.Property(name+": area conservation", prop.ForAll(
			func(ws, hs []int, kerf int, rotate bool) bool {
				result := run2D(strategy, ws, hs, kerf, rotate)
				var placedArea, stockArea, waste float64
				for _, s := range result.Sheets {
					for _, p := range s.Placements {
						placedArea += p.W * p.H
					}
					stockArea += s.StockW * s.StockH
					waste += s.Waste
				}
				return math.Abs(placedArea+waste-stockArea) <= 1
			},
			dimGen, dimGen, kerfGen, rotGen,
		))

		properties.Property(name+": rotation off means no rotated placements", prop.ForAll(
			func(ws, hs []int, kerf int) bool {
				result := run2D(strategy, ws, hs, kerf, false)
				for _, s := range result.Sheets {
					for _, p := range s.Placements {
						if p.Rotated {
							return false
						}
					}
				}
				return true
			},
			dimGen, dimGen, kerfGen,
		))

		properties.Property(name+": multiset of pieces is preserved", prop.ForAll(
			func(ws, hs []int, kerf int, rotate bool) bool {
				result := run2D(strategy, ws, hs, kerf, rotate)
				counts := make(map[string]int)
				for _, s := range result.Sheets {
					for _, p := range s.Placements {
						counts[p.PieceID]++
					}
				}
				for _, p := range result.Unplaced {
					counts[p.ID]++
				}
				for i := range ws {
					id := string(rune('a' + i))
					if counts[id] != 1 {
						return false
					}
					delete(counts, id)
				}
				return len(counts) == 0
			},
			dimGen, dimGen, kerfGen, rotGen,
		))
	}

	properties.TestingRun(t)
}

func run2D(strategy Strategy2D, ws, hs []int, kerf int, rotate bool) *Result2D {
	n := len(ws)
	if len(hs) < n {
		n = len(hs)
	}
	pieces := make([]Piece2D, 0, n)
	for i := 0; i < n; i++ {
		pieces = append(pieces, Piece2D{
			ID:        string(rune('a' + i)),
			W:         float64(ws[i]),
			H:         float64(hs[i]),
			Quantity:  1,
			CanRotate: true,
		})
	}
	stock := []Stock2D{{ID: "S", W: 1220, H: 2440, Available: n}}

	result, err := strategy(context.Background(), pieces, stock, Options{
		Kerf:           float64(kerf),
		AllowRotation:  rotate,
		MinUsableWaste: 10000,
	})
	if err != nil {
		panic(err)
	}
	return result
}
