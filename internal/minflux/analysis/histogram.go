// Package analysis holds the numeric helpers behind the histogram plots:
// bin selection, histogram counting and robust thresholds.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNoData is returned when no finite value is left to work on.
	ErrNoData = errors.New("no data")

	// ErrInvalidBinSize is returned for non-positive bin sizes.
	ErrInvalidBinSize = errors.New("bin size must be positive")

	// ErrTooManyBins is returned when a fixed bin size would split the
	// data range into more than MaxBins bins.
	ErrTooManyBins = errors.New("too many bins")
)

// MaxBins bounds the number of bins of a histogram. Automatic bins are
// widened to stay within it.
const MaxBins = 100000

// Bins describes histogram bins. Edges has one more element than Centers.
type Bins struct {
	Edges   []float64
	Centers []float64
	Width   float64
}

// Histogram is a binned count of values.
type Histogram struct {
	Bins
	Counts []float64
}

// finite returns the values that are neither NaN nor infinite in a new
// slice.
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// centeredBins lays out n bins of the given width with the first one
// centered on start.
func centeredBins(start, width float64, n int) Bins {
	b := Bins{
		Edges:   make([]float64, n+1),
		Centers: make([]float64, n),
		Width:   width,
	}
	half := width / 2
	for k := range b.Edges {
		b.Edges[k] = start - half + float64(k)*width
	}
	for k := range b.Centers {
		b.Centers[k] = (b.Edges[k] + b.Edges[k+1]) / 2
	}
	return b
}

// HistBins returns bins of fixed width covering values. The first bin is
// centered on the minimum truncated to a multiple of binSize.
func HistBins(values []float64, binSize float64) (Bins, error) {
	v := finite(values)
	if len(v) == 0 {
		return Bins{}, ErrNoData
	}
	if !(binSize > 0) || math.IsInf(binSize, 0) {
		return Bins{}, fmt.Errorf("%w: %g", ErrInvalidBinSize, binSize)
	}
	lo := binSize * math.Trunc(floats.Min(v)/binSize)
	hi := floats.Max(v)
	n := math.Floor((hi-lo)/binSize) + 1
	if !(n <= MaxBins) {
		return Bins{}, fmt.Errorf("%w: bin size %g over [%g, %g] needs %g bins, max %d",
			ErrTooManyBins, binSize, lo, hi, n, MaxBins)
	}
	return centeredBins(lo, binSize, int(n)), nil
}

// IdealHistBins picks the bin width with the Freedman–Diaconis rule, or
// with Scott's normal reference rule when scott is set. Identical values
// produce a single bin of width 1e-6 centered on them.
func IdealHistBins(values []float64, scott bool) (Bins, error) {
	v := finite(values)
	if len(v) == 0 {
		return Bins{}, ErrNoData
	}
	lo, hi := floats.Min(v), floats.Max(v)
	if lo == hi {
		return Bins{
			Edges:   []float64{lo - 5e-7, lo + 5e-7},
			Centers: []float64{lo},
			Width:   1e-6,
		}, nil
	}

	factor := 2.0
	if scott {
		factor = 2.59
	}
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	iqr := percentile(sorted, 75) - percentile(sorted, 25)
	width := factor * iqr / math.Cbrt(float64(len(v)))
	if width == 0 {
		width = 0.5 * (lo + hi)
	}
	if width <= 0 {
		// Fall back to a fixed number of bins over the range.
		width = (hi - lo) / 10
	}
	if math.IsInf(hi-lo, 0) {
		return Bins{}, fmt.Errorf("%w: range [%g, %g] overflows", ErrTooManyBins, lo, hi)
	}
	if math.Floor((hi-lo)/width)+1 > MaxBins {
		width = (hi - lo) / (MaxBins - 1)
	}
	n := int(math.Floor((hi-lo)/width)) + 1
	return centeredBins(lo, width, n), nil
}

// Count returns the number of values in each bin. Bins are half open
// except the last one, which includes its right edge. NaNs, infinities and
// values outside the edges are not counted.
func (b Bins) Count(values []float64) []float64 {
	counts := make([]float64, len(b.Centers))
	for _, v := range values {
		if k, ok := b.index(v); ok {
			counts[k]++
		}
	}
	return counts
}

// index returns the bin holding v.
func (b Bins) index(v float64) (int, bool) {
	n := len(b.Centers)
	if n == 0 || math.IsNaN(v) || v < b.Edges[0] || v > b.Edges[n] {
		return 0, false
	}
	// Edges are sorted; find the bin with Edges[k] <= v < Edges[k+1].
	k, found := slices.BinarySearch(b.Edges, v)
	if !found {
		k--
	}
	if k >= n {
		k = n - 1
	}
	return k, true
}

// PrepareHistogram bins values and counts them. With autoBins the width
// comes from IdealHistBins, otherwise binSize is used. With normalize the
// counts sum to 1.
func PrepareHistogram(values []float64, normalize, autoBins, scott bool, binSize float64) (Histogram, error) {
	var (
		bins Bins
		err  error
	)
	if autoBins {
		bins, err = IdealHistBins(values, scott)
	} else {
		bins, err = HistBins(values, binSize)
	}
	if err != nil {
		return Histogram{}, err
	}
	h := Histogram{Bins: bins, Counts: bins.Count(values)}
	if normalize {
		if total := floats.Sum(h.Counts); total > 0 {
			floats.Scale(1/total, h.Counts)
		}
	}
	return h, nil
}
