// Package geometry provides the rectangle and bar math shared by the packing
// strategies: kerf inflation, rotation eligibility, free-rectangle splitting
// and usable-waste classification.
package geometry

// Comparison epsilon for dimension checks. Dimensions are millimetres, so
// anything below a thousandth of a millimetre is noise.
const Epsilon = 0.001

// Default thresholds below which an offcut counts as scrap rather than
// reusable stock.
const (
	DefaultMinUsableWaste1D = 50    // mm
	DefaultMinUsableWaste2D = 10000 // mm²
)

// Rect is an axis-aligned rectangle on a sheet. X/Y is the bottom-left origin.
type Rect struct {
	X, Y, W, H float64
}

// Area returns the rectangle area.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Fits reports whether a piece of w×h, inflated by kerf on the trailing
// edges, fits inside the rectangle.
func (r Rect) Fits(w, h, kerf float64) bool {
	return w+kerf <= r.W+Epsilon && h+kerf <= r.H+Epsilon
}

// Overlaps returns true if two rectangles overlap (not just touch).
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W-Epsilon && r.X+r.W > o.X+Epsilon &&
		r.Y < o.Y+o.H-Epsilon && r.Y+r.H > o.Y+Epsilon
}

// Contains returns true if r fully contains o.
func (r Rect) Contains(o Rect) bool {
	return r.X <= o.X+Epsilon && r.Y <= o.Y+Epsilon &&
		r.X+r.W >= o.X+o.W-Epsilon &&
		r.Y+r.H >= o.Y+o.H-Epsilon
}

// Inflate returns the piece dimensions with the kerf band added on the
// trailing edges. Every placement reserves this band in free space so that
// the blade never eats into a neighbouring piece.
func Inflate(w, h, kerf float64) (float64, float64) {
	return w + kerf, h + kerf
}

// Rotatable reports whether a piece may be placed rotated by 90 degrees.
// Rotation requires the piece itself to allow it, the scenario-level toggle
// to be on, and no grain direction constraint.
func Rotatable(canRotate, allowRotation bool, grainDirection string) bool {
	return canRotate && allowRotation && (grainDirection == "" || grainDirection == "none")
}

// UsableWaste1D returns the reusable offcut length of a bar segment, or 0
// when the segment is below the threshold and counts as scrap.
func UsableWaste1D(remaining, minUsable float64) float64 {
	if remaining >= minUsable {
		return remaining
	}
	return 0
}

// UsableWaste2D returns the reusable offcut area of a free region, or 0 when
// the region is below the threshold and counts as scrap.
func UsableWaste2D(area, minUsable float64) float64 {
	if area >= minUsable {
		return area
	}
	return 0
}

// SplitAround removes the placed rectangle from a free rectangle, returning
// the maximal residual strips (up to four). Used by the bottom-left packer.
func SplitAround(free, placed Rect) []Rect {
	if !free.Overlaps(placed) {
		return []Rect{free}
	}

	var out []Rect

	// Left strip, full height
	if placed.X > free.X+Epsilon {
		out = append(out, Rect{X: free.X, Y: free.Y, W: placed.X - free.X, H: free.H})
	}
	// Right strip, full height
	if placed.X+placed.W < free.X+free.W-Epsilon {
		out = append(out, Rect{
			X: placed.X + placed.W, Y: free.Y,
			W: (free.X + free.W) - (placed.X + placed.W), H: free.H,
		})
	}
	// Bottom strip, full width
	if placed.Y > free.Y+Epsilon {
		out = append(out, Rect{X: free.X, Y: free.Y, W: free.W, H: placed.Y - free.Y})
	}
	// Top strip, full width
	if placed.Y+placed.H < free.Y+free.H-Epsilon {
		out = append(out, Rect{
			X: free.X, Y: placed.Y + placed.H,
			W: free.W, H: (free.Y + free.H) - (placed.Y + placed.H),
		})
	}

	return out
}

// GuillotineSplit splits a free rectangle into exactly two orthogonal
// residuals after placing a piece of w×h (kerf-inflated) at the rectangle's
// origin. The split axis is chosen so the larger single residual survives
// (short-axis split rule).
func GuillotineSplit(free Rect, w, h, kerf float64) (Rect, Rect) {
	wk, hk := Inflate(w, h, kerf)

	rightW := free.W - wk
	topH := free.H - hk

	// Horizontal full cut: right strip keeps the piece height band,
	// top strip spans the full width.
	horizRight := Rect{X: free.X + wk, Y: free.Y, W: rightW, H: hk}
	horizTop := Rect{X: free.X, Y: free.Y + hk, W: free.W, H: topH}

	// Vertical full cut: right strip spans the full height, top strip
	// sits above the piece only.
	vertRight := Rect{X: free.X + wk, Y: free.Y, W: rightW, H: free.H}
	vertTop := Rect{X: free.X, Y: free.Y + hk, W: wk, H: topH}

	// Keep the split whose larger residual is the largest.
	if maxArea(horizRight, horizTop) >= maxArea(vertRight, vertTop) {
		return horizRight, horizTop
	}
	return vertRight, vertTop
}

func maxArea(a, b Rect) float64 {
	if a.Area() > b.Area() {
		return a.Area()
	}
	return b.Area()
}

// PruneContained removes rectangles fully contained within another.
func PruneContained(rects []Rect) []Rect {
	if len(rects) <= 1 {
		return rects
	}
	kept := make([]Rect, 0, len(rects))
	for i, a := range rects {
		contained := false
		for j, b := range rects {
			if i != j && b.Contains(a) {
				// Identical rects: keep the first occurrence only.
				if !a.Contains(b) || j < i {
					contained = true
					break
				}
			}
		}
		if !contained {
			kept = append(kept, a)
		}
	}
	return kept
}
