package l1events

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// IterationIndices selects, per metric, the iteration whose value
// represents an event in the processed localization table.
type IterationIndices struct {
	EFO int
	CFR int
	DCR int
	ECO int
	Loc int
}

// DefaultIterationIndices returns the fixed indices used by the instrument's
// standard sequences. The 3D sequence reports a meaningful CFR only up to
// iteration 6.
func DefaultIterationIndices(is3D, aggregated bool) IterationIndices {
	switch {
	case aggregated:
		return IterationIndices{}
	case is3D:
		return IterationIndices{EFO: 9, CFR: 6, DCR: 9, ECO: 9, Loc: 9}
	default:
		return IterationIndices{EFO: 4, CFR: 4, DCR: 4, ECO: 4, Loc: 4}
	}
}

// FindLastValidIterations scans each metric from the last iteration
// backwards and returns the first iteration whose values vary across
// events (NaN-ignoring population standard deviation > 0). A position
// iteration needs variation in both x and y. Metrics that never vary map
// to iteration 0, as do aggregated acquisitions.
func FindLastValidIterations(ds *Dataset) IterationIndices {
	var idx IterationIndices
	if ds.Aggregated || ds.Iterations <= 1 || len(ds.Events) == 0 {
		return idx
	}

	column := func(it int, get func(*Iteration) float64) []float64 {
		out := make([]float64, 0, len(ds.Events))
		for i := range ds.Events {
			v := get(&ds.Events[i].Iterations[it])
			if !math.IsNaN(v) {
				out = append(out, v)
			}
		}
		return out
	}
	varies := func(it int, get func(*Iteration) float64) bool {
		col := column(it, get)
		if len(col) == 0 {
			return false
		}
		_, std := stat.PopMeanStdDev(col, nil)
		return std > 0
	}
	last := func(get func(*Iteration) float64) int {
		for it := ds.Iterations - 1; it >= 0; it-- {
			if varies(it, get) {
				return it
			}
		}
		return 0
	}

	idx.EFO = last(func(it *Iteration) float64 { return it.EFO })
	idx.CFR = last(func(it *Iteration) float64 { return it.CFR })
	idx.DCR = last(func(it *Iteration) float64 { return it.DCR })
	idx.ECO = last(func(it *Iteration) float64 { return float64(it.ECO) })
	for it := ds.Iterations - 1; it >= 0; it-- {
		if varies(it, func(x *Iteration) float64 { return x.Loc[0] }) &&
			varies(it, func(x *Iteration) float64 { return x.Loc[1] }) {
			idx.Loc = it
			break
		}
	}
	return idx
}
