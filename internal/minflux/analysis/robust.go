package analysis

import (
	"math"
	"slices"
)

// madScale converts a median absolute deviation to the scale of a normal
// standard deviation.
const madScale = 0.67449

// Threshold is a robust acceptance band around the median.
type Threshold struct {
	Upper  float64
	Lower  float64
	Median float64
	MAD    float64 // scaled median absolute deviation
}

// RobustThreshold returns median ± factor × MAD/0.67449 of the finite
// values.
func RobustThreshold(values []float64, factor float64) (Threshold, error) {
	v := finite(values)
	if len(v) == 0 {
		return Threshold{}, ErrNoData
	}
	slices.Sort(v)
	med := percentile(v, 50)

	dev := make([]float64, len(v))
	for i, x := range v {
		dev[i] = math.Abs(x - med)
	}
	slices.Sort(dev)
	mad := percentile(dev, 50) / madScale

	step := factor * mad
	return Threshold{Upper: med + step, Lower: med - step, Median: med, MAD: mad}, nil
}

// percentile returns the p-th percentile (0-100) of sorted data with
// linear interpolation between the closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p / 100
	lo := math.Floor(h)
	i := int(lo)
	if i >= n-1 {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
