package packing

import (
	"context"
	"sort"

	"github.com/aristath/opticut/internal/geometry"
)

// sheetState is an open sheet being packed: its accumulated placements, the
// current free rectangles, and (for bottom-left) the kerf-inflated footprints
// of everything placed so far.
type sheetState struct {
	sheet     Sheet
	freeRects []geometry.Rect
	placed    []geometry.Rect
}

// orientation is one way a piece can be laid on a sheet.
type orientation struct {
	w, h    float64
	rotated bool
}

// orientations returns the allowed orientations of a piece, unrotated first.
func orientations(p Piece2D, opts Options) []orientation {
	out := []orientation{{w: p.W, h: p.H}}
	if p.CanRotate && opts.AllowRotation && p.W != p.H {
		out = append(out, orientation{w: p.H, h: p.W, rotated: true})
	}
	return out
}

// sortUnits2D orders expanded units by max(w,h) descending, then area
// descending, then id ascending for determinism.
func sortUnits2D(units []Piece2D) {
	sort.SliceStable(units, func(i, j int) bool {
		mi := maxf(units[i].W, units[i].H)
		mj := maxf(units[j].W, units[j].H)
		if mi != mj {
			return mi > mj
		}
		ai := units[i].W * units[i].H
		aj := units[j].W * units[j].H
		if ai != aj {
			return ai > aj
		}
		return units[i].ID < units[j].ID
	})
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// openCheapestSheet opens a new sheet from the cheapest stock record that can
// hold the piece in any allowed orientation. Price ties resolve to input order.
func openCheapestSheet(stock []Stock2D, remaining []int, p Piece2D, opts Options) *sheetState {
	best := -1
	for i, s := range stock {
		if remaining[i] <= 0 {
			continue
		}
		sheet := geometry.Rect{W: s.W, H: s.H}
		holds := false
		for _, o := range orientations(p, opts) {
			if sheet.Fits(o.w, o.h, opts.Kerf) {
				holds = true
				break
			}
		}
		if !holds {
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
	s := stock[best]
	return &sheetState{
		sheet:     Sheet{StockID: s.ID, StockW: s.W, StockH: s.H},
		freeRects: []geometry.Rect{{W: s.W, H: s.H}},
	}
}

// BottomLeftFill packs pieces at the bottom-most, left-most admissible origin.
// Free rectangles may overlap; a candidate is rejected when the kerf-inflated
// footprint would intersect an already placed piece.
func BottomLeftFill(ctx context.Context, pieces []Piece2D, stock []Stock2D, opts Options) (*Result2D, error) {
	units := expand2D(pieces)
	sortUnits2D(units)

	remaining := availability2D(stock)
	var sheets []*sheetState
	var unplaced []Piece2D

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		placed := false
		for _, st := range sheets {
			if bottomLeftPlace(st, unit, opts) {
				placed = true
				break
			}
		}
		if !placed {
			if st := openCheapestSheet(stock, remaining, unit, opts); st != nil {
				bottomLeftPlace(st, unit, opts)
				sheets = append(sheets, st)
			} else {
				unplaced = append(unplaced, unit)
			}
		}
	}

	return finish2D(deref(sheets), unplaced, opts.MinUsableWaste), nil
}

// blCandidate is an admissible free rectangle for one orientation.
type blCandidate struct {
	rectIdx int
	rect    geometry.Rect
	orient  orientation
}

// bottomLeftPlace attempts to place one unit on the sheet. Returns false when
// no free rectangle admits the piece in any orientation.
func bottomLeftPlace(st *sheetState, p Piece2D, opts Options) bool {
	var best *blCandidate
	for _, o := range orientations(p, opts) {
		c := findBottomLeft(st, o, opts.Kerf)
		if c == nil {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		// Prefer the orientation leaving less waste in its candidate
		// rectangle; ties keep the unrotated orientation that came first.
		if c.rect.Area()-c.orient.w*c.orient.h < best.rect.Area()-best.orient.w*best.orient.h {
			best = c
		}
	}
	if best == nil {
		return false
	}

	wk, hk := geometry.Inflate(best.orient.w, best.orient.h, opts.Kerf)
	footprint := geometry.Rect{X: best.rect.X, Y: best.rect.Y, W: wk, H: hk}

	st.sheet.Placements = append(st.sheet.Placements, Placement{
		PieceID: p.ID,
		X:       best.rect.X,
		Y:       best.rect.Y,
		W:       best.orient.w,
		H:       best.orient.h,
		Rotated: best.orient.rotated,
	})
	st.placed = append(st.placed, footprint)

	// Split the chosen rectangle into a full-height right strip and a
	// full-width top strip; the rest of the free set stays and overlap is
	// resolved by the placed-footprint check on later candidates.
	chosen := st.freeRects[best.rectIdx]
	st.freeRects = append(st.freeRects[:best.rectIdx], st.freeRects[best.rectIdx+1:]...)
	if right := (geometry.Rect{X: chosen.X + wk, Y: chosen.Y, W: chosen.W - wk, H: chosen.H}); right.W > geometry.Epsilon {
		st.freeRects = append(st.freeRects, right)
	}
	if top := (geometry.Rect{X: chosen.X, Y: chosen.Y + hk, W: chosen.W, H: chosen.H - hk}); top.H > geometry.Epsilon {
		st.freeRects = append(st.freeRects, top)
	}
	st.freeRects = geometry.PruneContained(st.freeRects)
	return true
}

// findBottomLeft returns the admissible free rectangle with the bottom-most,
// then left-most origin, then the smallest area, then insertion order.
func findBottomLeft(st *sheetState, o orientation, kerf float64) *blCandidate {
	wk, hk := geometry.Inflate(o.w, o.h, kerf)

	var best *blCandidate
	for i, fr := range st.freeRects {
		if !fr.Fits(o.w, o.h, kerf) {
			continue
		}
		footprint := geometry.Rect{X: fr.X, Y: fr.Y, W: wk, H: hk}
		if intersectsAny(footprint, st.placed) {
			continue
		}
		if best == nil ||
			fr.Y < best.rect.Y-geometry.Epsilon ||
			(within(fr.Y, best.rect.Y) && fr.X < best.rect.X-geometry.Epsilon) ||
			(within(fr.Y, best.rect.Y) && within(fr.X, best.rect.X) && fr.Area() < best.rect.Area()) {
			best = &blCandidate{rectIdx: i, rect: fr, orient: o}
		}
	}
	return best
}

func within(a, b float64) bool {
	d := a - b
	return d < geometry.Epsilon && d > -geometry.Epsilon
}

func intersectsAny(r geometry.Rect, placed []geometry.Rect) bool {
	for _, p := range placed {
		if r.Overlaps(p) {
			return true
		}
	}
	return false
}

// GuillotinePack places every piece with edge-to-edge cuts: each placement
// consumes a free rectangle and splits it into exactly two orthogonal
// residuals, so the free set stays disjoint and every layout is reproducible
// on a panel saw.
func GuillotinePack(ctx context.Context, pieces []Piece2D, stock []Stock2D, opts Options) (*Result2D, error) {
	units := expand2D(pieces)
	sortUnits2D(units)

	remaining := availability2D(stock)
	var sheets []*sheetState
	var unplaced []Piece2D

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		placed := false
		for _, st := range sheets {
			if guillotinePlace(st, unit, opts) {
				placed = true
				break
			}
		}
		if !placed {
			if st := openCheapestSheet(stock, remaining, unit, opts); st != nil {
				guillotinePlace(st, unit, opts)
				sheets = append(sheets, st)
			} else {
				unplaced = append(unplaced, unit)
			}
		}
	}

	return finish2D(deref(sheets), unplaced, opts.MinUsableWaste), nil
}

// guillotinePlace inserts one unit using the Best Area Fit rule over the
// disjoint free set, then splits the chosen rectangle with a full cut.
func guillotinePlace(st *sheetState, p Piece2D, opts Options) bool {
	bestIdx := -1
	bestWaste := 0.0
	var bestOrient orientation

	for _, o := range orientations(p, opts) {
		for i, fr := range st.freeRects {
			if !fr.Fits(o.w, o.h, opts.Kerf) {
				continue
			}
			waste := fr.Area() - o.w*o.h
			// Strict less-than keeps the unrotated orientation and the
			// earlier rectangle on ties.
			if bestIdx < 0 || waste < bestWaste {
				bestIdx = i
				bestWaste = waste
				bestOrient = o
			}
		}
	}
	if bestIdx < 0 {
		return false
	}

	chosen := st.freeRects[bestIdx]
	st.sheet.Placements = append(st.sheet.Placements, Placement{
		PieceID: p.ID,
		X:       chosen.X,
		Y:       chosen.Y,
		W:       bestOrient.w,
		H:       bestOrient.h,
		Rotated: bestOrient.rotated,
	})

	right, top := geometry.GuillotineSplit(chosen, bestOrient.w, bestOrient.h, opts.Kerf)
	st.freeRects = append(st.freeRects[:bestIdx], st.freeRects[bestIdx+1:]...)
	if right.W > geometry.Epsilon && right.H > geometry.Epsilon {
		st.freeRects = append(st.freeRects, right)
	}
	if top.W > geometry.Epsilon && top.H > geometry.Epsilon {
		st.freeRects = append(st.freeRects, top)
	}
	return true
}

func availability2D(stock []Stock2D) []int {
	remaining := make([]int, len(stock))
	for i, s := range stock {
		remaining[i] = s.Available
	}
	return remaining
}

func deref(sheets []*sheetState) []sheetState {
	out := make([]sheetState, 0, len(sheets))
	for _, s := range sheets {
		out = append(out, *s)
	}
	return out
}
