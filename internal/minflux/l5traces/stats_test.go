package l5traces

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/minflux/internal/minflux/l3locs"
)

func newLocs(tids []int32, xs []float64, ecos []int32, fluo []int8) *l3locs.Localizations {
	n := len(tids)
	l := &l3locs.Localizations{
		TID: tids, TIM: make([]float64, n),
		X: xs, Y: make([]float64, n), Z: make([]float64, n),
		EFO: make([]float64, n), CFR: make([]float64, n), ECO: ecos,
		DCR: make([]float64, n), Dwell: make([]float64, n), Fluo: fluo,
	}
	for i := range xs {
		l.Y[i] = 2 * xs[i]
		l.Z[i] = -xs[i]
	}
	return l
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func TestCompute(t *testing.T) {
	l := newLocs(
		[]int32{9, 4, 9, 9, 4},
		[]float64{1, 10, 2, 3, 20},
		[]int32{1, 1, 1, 1, 1},
		[]int8{2, 1, 1, 2, 2},
	)

	stats := Compute(l, allRows(l.Len()))
	require.Len(t, stats, 2)

	s := stats[0]
	assert.Equal(t, int32(4), s.TID)
	assert.Equal(t, 2, s.N)
	assert.InDelta(t, 15, s.MX, 1e-12)
	assert.InDelta(t, 30, s.MY, 1e-12)
	assert.InDelta(t, -15, s.MZ, 1e-12)
	assert.InDelta(t, math.Sqrt(50), s.SX, 1e-12)
	assert.InDelta(t, 2*math.Sqrt(50), s.SY, 1e-12)
	// tie between 1 and 2 goes to the smaller ID
	assert.Equal(t, int8(1), s.Fluo)

	s = stats[1]
	assert.Equal(t, int32(9), s.TID)
	assert.Equal(t, 3, s.N)
	assert.InDelta(t, 2, s.MX, 1e-12)
	assert.InDelta(t, 1, s.SX, 1e-12)
	assert.Equal(t, int8(2), s.Fluo)
}

func TestCompute_SingleLocalizationHasZeroStd(t *testing.T) {
	l := newLocs([]int32{3}, []float64{7}, []int32{1}, []int8{1})
	stats := Compute(l, []int{0})
	require.Len(t, stats, 1)
	assert.Equal(t, Stats{TID: 3, N: 1, MX: 7, MY: 14, MZ: -7, Fluo: 1}, stats[0])
}

func TestCompute_OnlySelectedRows(t *testing.T) {
	l := newLocs([]int32{1, 1, 2}, []float64{0, 4, 8}, []int32{1, 1, 1}, []int8{1, 1, 1})
	stats := Compute(l, []int{1, 2})
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].N)
	assert.Equal(t, 4.0, stats[0].MX)

	assert.Empty(t, Compute(l, nil))
}

func TestWeightedLocalizations(t *testing.T) {
	l := newLocs(
		[]int32{1, 1, 2},
		[]float64{0, 10, 5},
		[]int32{1, 3, 0},
		[]int8{1, 1, 2},
	)
	rows := allRows(l.Len())

	plain := WeightedLocalizations(l, rows, false)
	require.Len(t, plain, 2)
	assert.Equal(t, Position{TID: 1, X: 5, Y: 10, Z: -5, Fluo: 1}, plain[0])

	weighted := WeightedLocalizations(l, rows, true)
	require.Len(t, weighted, 2)
	assert.InDelta(t, 7.5, weighted[0].X, 1e-12)
	assert.InDelta(t, 15, weighted[0].Y, 1e-12)
	assert.InDelta(t, -7.5, weighted[0].Z, 1e-12)
	// zero total ECO falls back to the plain mean
	assert.Equal(t, Position{TID: 2, X: 5, Y: 10, Z: -5, Fluo: 2}, weighted[1])
}

func TestCompute_IgnoresNaNPerColumn(t *testing.T) {
	nan := math.NaN()
	l := newLocs([]int32{1, 1, 1, 2, 2}, []float64{1, nan, 3, nan, nan}, []int32{1, 1, 1, 1, 1}, []int8{1, 1, 1, 1, 1})
	l.Y = []float64{2, 4, 6, 5, nan}

	stats := Compute(l, allRows(l.Len()))
	require.Len(t, stats, 2)

	s := stats[0]
	assert.Equal(t, 3, s.N)
	assert.InDelta(t, 2, s.MX, 1e-12)
	assert.InDelta(t, math.Sqrt2, s.SX, 1e-12)
	assert.InDelta(t, 4, s.MY, 1e-12)
	assert.InDelta(t, 2, s.SY, 1e-12)

	s = stats[1]
	assert.True(t, math.IsNaN(s.MX))
	assert.Zero(t, s.SX)
	assert.InDelta(t, 5, s.MY, 1e-12)
	assert.Zero(t, s.SY)
}

func TestWeightedLocalizations_SkipsNaN(t *testing.T) {
	nan := math.NaN()
	l := newLocs([]int32{1, 1, 1, 2}, []float64{0, nan, 10, nan}, []int32{1, 5, 3, 1}, []int8{1, 1, 1, 1})

	plain := WeightedLocalizations(l, allRows(l.Len()), false)
	require.Len(t, plain, 2)
	assert.InDelta(t, 5, plain[0].X, 1e-12)
	assert.True(t, math.IsNaN(plain[1].X))

	weighted := WeightedLocalizations(l, allRows(l.Len()), true)
	require.Len(t, weighted, 2)
	assert.InDelta(t, 7.5, weighted[0].X, 1e-12)
	assert.InDelta(t, 15, weighted[0].Y, 1e-12)
}
