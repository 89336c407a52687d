package l3locs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/minflux/internal/minflux/l1events"
)

func testDataset(t *testing.T, iterations int) *l1events.Dataset {
	t.Helper()
	var events []l1events.Event
	for i := 0; i < 4; i++ {
		its := make([]l1events.Iteration, iterations)
		for k := range its {
			its[k] = l1events.Iteration{
				ITR: int32(k),
				Loc: [3]float64{float64(i+k) * 1e-9, float64(i-k) * 1e-9, float64(k) * 1e-9},
				ECO: int32(100 * (k + 1)),
				EFO: 50000 * float64(k+1),
				CFR: 0.1 * float64(k),
				DCR: 0.5,
			}
		}
		events = append(events, l1events.Event{
			TID: int32(i / 2), VLD: i != 3, TIM: float64(i), Iterations: its,
		})
	}
	ds, err := l1events.NewDataset(events)
	require.NoError(t, err)
	return ds
}

func TestBuild_ValidEvents3D(t *testing.T) {
	ds := testDataset(t, 10)
	opts := DefaultOptions(ds)
	opts.ZScaling = 0.5

	l, err := Build(ds, opts)
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())
	assert.True(t, l.Is3D)

	assert.Equal(t, []int32{0, 0, 1}, l.TID)
	assert.Equal(t, []float64{0, 1, 2}, l.TIM)
	assert.InDeltaSlice(t, []float64{9, 10, 11}, l.X, 1e-9)
	assert.InDeltaSlice(t, []float64{-9, -8, -7}, l.Y, 1e-9)
	assert.InDeltaSlice(t, []float64{4.5, 4.5, 4.5}, l.Z, 1e-9)
	// cfr comes from iteration 6 in 3D sequences
	assert.InDeltaSlice(t, []float64{0.6, 0.6, 0.6}, l.CFR, 1e-12)
	assert.Equal(t, []int32{1000, 1000, 1000}, l.ECO)
	// dwell = eco / (efo / 1000) = 1000 / 500
	assert.Equal(t, []float64{2, 2, 2}, l.Dwell)
	// all-zero fluorophore IDs default to 1
	assert.Equal(t, []int8{1, 1, 1}, l.Fluo)
}

func TestBuild_InvalidOnly(t *testing.T) {
	ds := testDataset(t, 5)
	opts := DefaultOptions(ds)
	opts.ValidOnly = false

	l, err := Build(ds, opts)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, int32(1), l.TID[0])
	assert.Equal(t, 3.0, l.TIM[0])
}

func TestBuild_KeepsFluorophoreIDs(t *testing.T) {
	ds := testDataset(t, 5)
	ds.Events[1].Fluo = 2
	l, err := Build(ds, DefaultOptions(ds))
	require.NoError(t, err)
	assert.Equal(t, []int8{0, 2, 0}, l.Fluo)
}

func TestBuild_DwellRoundsHalfToEven(t *testing.T) {
	ds := testDataset(t, 1)
	for i := range ds.Events {
		ds.Events[i].Iterations[0].ECO = 5
		ds.Events[i].Iterations[0].EFO = 2000
	}
	l, err := Build(ds, DefaultOptions(ds))
	require.NoError(t, err)
	// 5 / 2 = 2.5 rounds to 2
	assert.Equal(t, 2.0, l.Dwell[0])
}

func TestBuild_IndexOutOfRange(t *testing.T) {
	ds := testDataset(t, 5)
	opts := DefaultOptions(ds)
	opts.Indices.CFR = 6

	_, err := Build(ds, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestColumnAndValue(t *testing.T) {
	ds := testDataset(t, 5)
	l, err := Build(ds, DefaultOptions(ds))
	require.NoError(t, err)

	for _, name := range Properties() {
		col, err := l.Column(name)
		require.NoError(t, err, name)
		require.Len(t, col, l.Len(), name)
		v, err := l.Value(name, 2)
		require.NoError(t, err, name)
		assert.Equal(t, col[2], v, name)
	}

	tids, err := l.Column("tid")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, tids)

	// Column returns a copy
	x, _ := l.Column("x")
	x[0] = -1
	assert.NotEqual(t, -1.0, l.X[0])

	_, err = l.Column("itr")
	assert.True(t, errors.Is(err, ErrUnknownProperty))
	_, err = l.Value("vld", 0)
	assert.True(t, errors.Is(err, ErrUnknownProperty))
}

func TestGather(t *testing.T) {
	ds := testDataset(t, 5)
	l, err := Build(ds, DefaultOptions(ds))
	require.NoError(t, err)

	g := l.Gather([]int{2, 0})
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []int32{1, 0}, g.TID)
	assert.Equal(t, []float64{l.X[2], l.X[0]}, g.X)
}

func TestPropertiesIsACopy(t *testing.T) {
	p := Properties()
	p[0] = "changed"
	assert.Equal(t, "tid", Properties()[0])
}
