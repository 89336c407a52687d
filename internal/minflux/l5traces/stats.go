// Package l5traces aggregates localizations per trace.
package l5traces

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/minflux/internal/minflux/l3locs"
)

// Stats summarises one trace. NaN coordinates are ignored per column: a
// mean is NaN only when the trace has no finite value for it, and SX, SY
// and SZ are sample standard deviations, 0 with fewer than two values.
type Stats struct {
	TID  int32
	N    int
	MX   float64
	MY   float64
	MZ   float64
	SX   float64
	SY   float64
	SZ   float64
	Fluo int8
}

// Position is the representative localization of a trace.
type Position struct {
	TID  int32
	X    float64
	Y    float64
	Z    float64
	Fluo int8
}

// group collects the row indices of each trace, ordered by ascending TID.
type group struct {
	tid  int32
	rows []int
}

func groupByTID(locs *l3locs.Localizations, rows []int) []group {
	byTID := make(map[int32][]int)
	for _, i := range rows {
		byTID[locs.TID[i]] = append(byTID[locs.TID[i]], i)
	}
	tids := make([]int32, 0, len(byTID))
	for tid := range byTID {
		tids = append(tids, tid)
	}
	slices.Sort(tids)
	groups := make([]group, len(tids))
	for k, tid := range tids {
		groups[k] = group{tid: tid, rows: byTID[tid]}
	}
	return groups
}

// gatherFinite collects the finite values of src at rows into dst. When
// weights is non-nil the weights of the kept rows are collected into w.
func gatherFinite(src []float64, rows []int, dst []float64, weights []float64, w []float64) ([]float64, []float64) {
	dst, w = dst[:0], w[:0]
	for k, i := range rows {
		v := src[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		dst = append(dst, v)
		if weights != nil {
			w = append(w, weights[k])
		}
	}
	return dst, w
}

// Compute returns statistics for each trace present in rows, in ascending
// TID order.
func Compute(locs *l3locs.Localizations, rows []int) []Stats {
	groups := groupByTID(locs, rows)
	out := make([]Stats, len(groups))
	var buf []float64
	for k, g := range groups {
		s := Stats{TID: g.tid, N: len(g.rows), Fluo: mode(locs.Fluo, g.rows)}
		buf, _ = gatherFinite(locs.X, g.rows, buf, nil, nil)
		s.MX, s.SX = meanStd(buf)
		buf, _ = gatherFinite(locs.Y, g.rows, buf, nil, nil)
		s.MY, s.SY = meanStd(buf)
		buf, _ = gatherFinite(locs.Z, g.rows, buf, nil, nil)
		s.MZ, s.SZ = meanStd(buf)
		out[k] = s
	}
	return out
}

func meanStd(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return math.NaN(), 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

// mode returns the most frequent fluorophore ID among rows; ties go to
// the smallest ID.
func mode(fluo []int8, rows []int) int8 {
	var counts [256]int
	for _, i := range rows {
		counts[int(fluo[i])+128]++
	}
	best, bestCount := 0, 0
	for v, c := range counts {
		if c > bestCount {
			best, bestCount = v, c
		}
	}
	return int8(best - 128)
}

// WeightedLocalizations returns one position per trace present in rows.
// Without weighting the position is the mean; with weighting each
// localization contributes in proportion to its ECO photon count. Non-finite
// coordinates are skipped per axis.
func WeightedLocalizations(locs *l3locs.Localizations, rows []int, weighted bool) []Position {
	groups := groupByTID(locs, rows)
	out := make([]Position, len(groups))
	var buf, eco, w []float64
	for k, g := range groups {
		var ecoRows []float64
		if weighted {
			eco = eco[:0]
			for _, i := range g.rows {
				eco = append(eco, float64(locs.ECO[i]))
			}
			ecoRows = eco
		}
		axis := func(src []float64) float64 {
			buf, w = gatherFinite(src, g.rows, buf, ecoRows, w)
			return weightedMean(buf, w, weighted)
		}
		out[k] = Position{
			TID:  g.tid,
			X:    axis(locs.X),
			Y:    axis(locs.Y),
			Z:    axis(locs.Z),
			Fluo: mode(locs.Fluo, g.rows),
		}
	}
	return out
}

// weightedMean falls back to the plain mean when the weights sum to zero.
func weightedMean(x, w []float64, weighted bool) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	if !weighted || floats.Sum(w) == 0 {
		w = nil
	}
	return stat.Mean(x, w)
}
