package analysis

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// ErrNoPeak is returned when a histogram has no peak (or valley) that is
// prominent enough.
var ErrNoPeak = errors.New("no peak found")

// PeakOptions tunes FindFirstPeakBounds.
type PeakOptions struct {
	// MinRelProminence is the minimum prominence of a peak relative to
	// the range of the filtered counts.
	MinRelProminence float64
	// MedianSupport is the window of the median filter applied to the
	// counts before searching; 1 disables filtering.
	MedianSupport int
}

// DefaultPeakOptions returns a 1% relative prominence and a median filter
// of five bins.
func DefaultPeakOptions() PeakOptions {
	return PeakOptions{MinRelProminence: 0.01, MedianSupport: 5}
}

// FindFirstPeakBounds locates the first prominent peak of a histogram and
// returns the positions of the valleys enclosing it. bins holds one
// position per count, e.g. the bin centers. A side without a valley is
// bounded by the first or last bin.
func FindFirstPeakBounds(counts, bins []float64, opts PeakOptions) (lower, upper float64, err error) {
	if len(counts) == 0 {
		return 0, 0, ErrNoData
	}
	if len(bins) != len(counts) {
		return 0, 0, fmt.Errorf("bins and counts differ in length: %d != %d", len(bins), len(counts))
	}
	support := opts.MedianSupport
	if support < 1 {
		support = 1
	}
	x := medianFilter(counts, support)
	minProminence := opts.MinRelProminence * (floats.Max(x) - floats.Min(x))

	peaks := findPeaks(x, minProminence)
	if len(peaks) == 0 {
		return 0, 0, ErrNoPeak
	}
	valleys := findPeaks(invert(x), minProminence)
	first := peaks[0]

	lower, upper = bins[0], bins[len(bins)-1]
	for _, v := range valleys {
		if v < first {
			lower = bins[v]
		}
		if v > first {
			upper = bins[v]
			break
		}
	}
	return lower, upper, nil
}

// FindCutoffNearValue returns the position of the histogram valley
// closest to expected. Valleys must have a prominence of at least 5% of
// the count range.
func FindCutoffNearValue(counts, bins []float64, expected float64) (float64, error) {
	if len(counts) == 0 {
		return 0, ErrNoData
	}
	if len(bins) != len(counts) {
		return 0, fmt.Errorf("bins and counts differ in length: %d != %d", len(bins), len(counts))
	}
	minProminence := 0.05 * (floats.Max(counts) - floats.Min(counts))
	valleys := findPeaks(invert(counts), minProminence)
	if len(valleys) == 0 {
		return 0, ErrNoPeak
	}
	best := valleys[0]
	for _, v := range valleys[1:] {
		if math.Abs(bins[v]-expected) < math.Abs(bins[best]-expected) {
			best = v
		}
	}
	return bins[best], nil
}

func invert(x []float64) []float64 {
	top := floats.Max(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = top - v
	}
	return out
}

// medianFilter slides a window of the given size over x, reflecting the
// signal at its ends (d c b a | a b c d | d c b a). For even sizes the
// window extends one sample further to the left and the upper median is
// used.
func medianFilter(x []float64, size int) []float64 {
	n := len(x)
	out := make([]float64, n)
	window := make([]float64, size)
	for i := range x {
		for k := range window {
			window[k] = x[reflect(i-size/2+k, n)]
		}
		slices.Sort(window)
		out[i] = window[size/2]
	}
	return out
}

func reflect(j, n int) int {
	for j < 0 || j >= n {
		if j < 0 {
			j = -j - 1
		}
		if j >= n {
			j = 2*n - j - 1
		}
	}
	return j
}

// findPeaks returns the indices of the local maxima of x whose
// prominence is at least minProminence. Flat peaks are reported at their
// middle (rounded down); the first and last sample are never peaks.
func findPeaks(x []float64, minProminence float64) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < n-1 && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			mid := (i + ahead - 1) / 2
			if prominence(x, mid) >= minProminence {
				peaks = append(peaks, mid)
			}
			i = ahead - 1
		}
	}
	return peaks
}

// prominence is the height of peak p above the higher of the lowest
// points reached on either side before the signal rises above x[p].
func prominence(x []float64, p int) float64 {
	leftMin := x[p]
	for i := p; i >= 0 && x[i] <= x[p]; i-- {
		leftMin = math.Min(leftMin, x[i])
	}
	rightMin := x[p]
	for i := p; i < len(x) && x[i] <= x[p]; i++ {
		rightMin = math.Min(rightMin, x[i])
	}
	return x[p] - math.Max(leftMin, rightMin)
}
