package packing

import (
	"context"
	"sort"
)

// openBar is a bar currently being filled.
type openBar struct {
	stockOrder int // index of the stock record in the input list
	stockID    string
	length     float64
	cuts       []Cut
	end        float64 // trailing edge of the last cut
}

// nextOffset returns where the next piece would start. Kerf is charged after
// each cut except the last of a bar, so an empty bar starts at zero.
func (b *openBar) nextOffset(kerf float64) float64 {
	if len(b.cuts) == 0 {
		return 0
	}
	return b.end + kerf
}

func (b *openBar) fits(length, kerf float64) bool {
	return b.nextOffset(kerf)+length <= b.length
}

func (b *openBar) place(p Piece1D, kerf float64) {
	offset := b.nextOffset(kerf)
	b.cuts = append(b.cuts, Cut{PieceID: p.ID, Offset: offset, Length: p.Length})
	b.end = offset + p.Length
}

// sortUnits orders expanded units by length descending, id ascending. The id
// in the sort key keeps identical inputs producing byte-identical outputs.
func sortUnits(units []Piece1D) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Length != units[j].Length {
			return units[i].Length > units[j].Length
		}
		return units[i].ID < units[j].ID
	})
}

// openCheapest opens a new bar from the cheapest stock record whose length
// fits the piece. Price ties resolve to input order. Returns nil when no
// stock can hold the piece.
func openCheapest(stock []Stock1D, remaining []int, length float64) *openBar {
	best := -1
	for i, s := range stock {
		if remaining[i] <= 0 || s.Length < length {
			continue
		}
		if best < 0 || s.UnitPrice < stock[best].UnitPrice {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	remaining[best]--
	return &openBar{
		stockOrder: best,
		stockID:    stock[best].ID,
		length:     stock[best].Length,
	}
}

// FirstFitDecreasing packs each piece into the first open bar with room,
// opening a new bar from the cheapest fitting stock when none has.
func FirstFitDecreasing(ctx context.Context, pieces []Piece1D, stock []Stock1D, opts Options) (*Result1D, error) {
	units := expand1D(pieces)
	sortUnits(units)

	remaining := availability1D(stock)
	var bars []*openBar
	var unplaced []Piece1D

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		placed := false
		for _, b := range bars {
			if b.fits(unit.Length, opts.Kerf) {
				b.place(unit, opts.Kerf)
				placed = true
				break
			}
		}
		if !placed {
			if b := openCheapest(stock, remaining, unit.Length); b != nil {
				b.place(unit, opts.Kerf)
				bars = append(bars, b)
			} else {
				unplaced = append(unplaced, unit)
			}
		}
	}

	return finish1D(closeBars(bars), unplaced, opts.MinUsableWaste), nil
}

// BestFitDecreasing packs each piece into the open bar whose remaining
// length after placement is minimal. Ties resolve to the bar whose stock
// record appears earlier in the input, then to the older bar.
func BestFitDecreasing(ctx context.Context, pieces []Piece1D, stock []Stock1D, opts Options) (*Result1D, error) {
	units := expand1D(pieces)
	sortUnits(units)

	remaining := availability1D(stock)
	var bars []*openBar
	var unplaced []Piece1D

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		best := -1
		bestLeft := 0.0
		for i, b := range bars {
			if !b.fits(unit.Length, opts.Kerf) {
				continue
			}
			left := b.length - (b.nextOffset(opts.Kerf) + unit.Length)
			if best < 0 || left < bestLeft ||
				(left == bestLeft && bars[i].stockOrder < bars[best].stockOrder) {
				best = i
				bestLeft = left
			}
		}

		if best >= 0 {
			bars[best].place(unit, opts.Kerf)
			continue
		}
		if b := openCheapest(stock, remaining, unit.Length); b != nil {
			b.place(unit, opts.Kerf)
			bars = append(bars, b)
		} else {
			unplaced = append(unplaced, unit)
		}
	}

	return finish1D(closeBars(bars), unplaced, opts.MinUsableWaste), nil
}

func availability1D(stock []Stock1D) []int {
	remaining := make([]int, len(stock))
	for i, s := range stock {
		remaining[i] = s.Available
	}
	return remaining
}

func closeBars(bars []*openBar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, Bar{
			StockID:     b.stockID,
			StockLength: b.length,
			Cuts:        b.cuts,
		})
	}
	return out
}
