package analysis

import (
	"fmt"
	"slices"
)

// Range is a closed [min, max] interval.
type Range [2]float64

// Span returns max - min.
func (r Range) Span() float64 { return r[1] - r[0] }

// widen grows r symmetrically to at least minSpan.
func (r Range) widen(minSpan float64) Range {
	if d := r.Span(); d < minSpan {
		half := (minSpan - d) / 2
		return Range{r[0] - half, r[1] + half}
	}
	return r
}

// quantileRange returns the alpha and 1-alpha quantiles of the finite
// values, interpolating linearly between ranks.
func quantileRange(values []float64, alpha float64) (Range, error) {
	v := finite(values)
	if len(v) == 0 {
		return Range{}, ErrNoData
	}
	slices.Sort(v)
	return Range{percentile(v, 100*alpha), percentile(v, 100*(1-alpha))}, nil
}

// LocalizationBoundaries returns the x, y and z extents of a set of
// localizations after discarding the alpha tails of each coordinate.
// Ranges narrower than minRange are widened around their center; z is
// widened only when it is not flat, so 2D data keeps a zero z range.
func LocalizationBoundaries(x, y, z []float64, alpha, minRange float64) (rx, ry, rz Range, err error) {
	if !(alpha >= 0 && alpha < 0.5) {
		return rx, ry, rz, fmt.Errorf("alpha must be in [0, 0.5), got %g", alpha)
	}
	if rx, err = quantileRange(x, alpha); err != nil {
		return rx, ry, rz, fmt.Errorf("x: %w", err)
	}
	if ry, err = quantileRange(y, alpha); err != nil {
		return rx, ry, rz, fmt.Errorf("y: %w", err)
	}
	if rz, err = quantileRange(z, alpha); err != nil {
		return rx, ry, rz, fmt.Errorf("z: %w", err)
	}
	rx = rx.widen(minRange)
	ry = ry.widen(minRange)
	if rz.Span() > 1e-6 {
		rz = rz.widen(minRange)
	}
	return rx, ry, rz, nil
}

// Histogram2D counts points on a grid. Counts is indexed [y bin][x bin].
type Histogram2D struct {
	X, Y   Bins
	Counts [][]float64
}

// AxisBinning selects the bins of one axis of a 2D histogram: explicit
// Edges when set, otherwise automatic bins or fixed BinSize wide bins as
// in PrepareHistogram.
type AxisBinning struct {
	Edges   []float64
	Auto    bool
	BinSize float64
}

func (a AxisBinning) bins(values []float64, scott bool) (Bins, error) {
	if len(a.Edges) > 0 {
		return binsFromEdges(a.Edges)
	}
	if a.Auto {
		return IdealHistBins(values, scott)
	}
	return HistBins(values, a.BinSize)
}

func binsFromEdges(edges []float64) (Bins, error) {
	if len(edges) < 2 {
		return Bins{}, fmt.Errorf("need at least two bin edges, got %d", len(edges))
	}
	if !slices.IsSorted(edges) {
		return Bins{}, fmt.Errorf("bin edges must be sorted")
	}
	b := Bins{Edges: slices.Clone(edges), Centers: make([]float64, len(edges)-1)}
	for k := range b.Centers {
		b.Centers[k] = (edges[k] + edges[k+1]) / 2
	}
	b.Width = edges[1] - edges[0]
	return b, nil
}

// Calculate2DHistogram bins the (x, y) pairs. Pairs with a non-finite
// coordinate or outside the edges are not counted.
func Calculate2DHistogram(x, y []float64, xb, yb AxisBinning, scott bool) (Histogram2D, error) {
	if len(x) != len(y) {
		return Histogram2D{}, fmt.Errorf("x and y differ in length: %d != %d", len(x), len(y))
	}
	bx, err := xb.bins(x, scott)
	if err != nil {
		return Histogram2D{}, fmt.Errorf("x bins: %w", err)
	}
	by, err := yb.bins(y, scott)
	if err != nil {
		return Histogram2D{}, fmt.Errorf("y bins: %w", err)
	}
	h := Histogram2D{X: bx, Y: by, Counts: make([][]float64, len(by.Centers))}
	for r := range h.Counts {
		h.Counts[r] = make([]float64, len(bx.Centers))
	}
	for i := range x {
		c, okX := bx.index(x[i])
		r, okY := by.index(y[i])
		if okX && okY {
			h.Counts[r][c]++
		}
	}
	return h, nil
}
