package monitor

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestWriteHistogram(t *testing.T) {
	values := []float64{12000, 15000, 15500, 18000, 22000, 22100, 40000}

	tests := []struct {
		name    string
		binSize float64
		markers []float64
	}{
		{"fixed bins", 1000, nil},
		{"automatic bins with thresholds", 0, []float64{10000, 30000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			hp := NewHistogramPlotter()
			require.NoError(t, hp.WriteHistogram(&buf, "EFO", "EFO (Hz)", values, tt.binSize, tt.markers...))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic), "output should be a PNG")
		})
	}
}

func TestWriteHistogram_Counts(t *testing.T) {
	hp := NewHistogramPlotter()
	hp.Normalize = false
	hp.Scott = true
	var buf bytes.Buffer
	require.NoError(t, hp.WriteHistogram(&buf, "CFR", "CFR", []float64{0.1, 0.2, 0.2, 0.3, 0.8}, 0))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestWriteHistogram_NoData(t *testing.T) {
	hp := NewHistogramPlotter()
	var buf bytes.Buffer
	err := hp.WriteHistogram(&buf, "empty", "x", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrNoData))
	assert.Zero(t, buf.Len())
}

func TestWriteHistogram_InfiniteValues(t *testing.T) {
	hp := NewHistogramPlotter()
	values := []float64{1, 2, 3, 4, math.Inf(1), math.Inf(-1)}
	for _, binSize := range []float64{0, 1} {
		var buf bytes.Buffer
		require.NoError(t, hp.WriteHistogram(&buf, "finite", "x", values, binSize))
		assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
	}
}

func TestRenderScatter(t *testing.T) {
	positions := []l5traces.Position{
		{TID: 1, X: 10, Y: 20, Fluo: 1},
		{TID: 5, X: -30, Y: 40, Fluo: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderScatter(&buf, "Localizations", positions, true))
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "Localizations")
	assert.Contains(t, html, "color=tid")

	buf.Reset()
	require.NoError(t, RenderScatter(&buf, "Fluorophores", positions, false))
	assert.Contains(t, buf.String(), "color=fluorophore")
}

func TestRenderScatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderScatter(&buf, "Nothing", nil, true))
	assert.Contains(t, buf.String(), "localizations=0")
}

func TestRenderScatter_SkipsNonFinite(t *testing.T) {
	positions := []l5traces.Position{
		{TID: 1, X: 10, Y: 20, Fluo: 1},
		{TID: 2, X: math.NaN(), Y: 5, Fluo: 1},
		{TID: 3, X: 4, Y: math.Inf(1), Fluo: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderScatter(&buf, "Partial", positions, true))
	html := buf.String()
	assert.Contains(t, html, "localizations=1")
}

func TestWriteImage(t *testing.T) {
	r := analysis.Range{0, 100}
	im, err := analysis.RenderXY([]float64{10, 50, 52}, []float64{10, 50, 51}, analysis.RenderOptions{SX: 5, SY: 5, RX: &r, RY: &r})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewImagePlotter().WriteImage(&buf, "render", im))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestWriteImage_Empty(t *testing.T) {
	var buf bytes.Buffer
	err := NewImagePlotter().WriteImage(&buf, "render", &analysis.Image{})
	assert.True(t, errors.Is(err, analysis.ErrNoData))
	assert.Zero(t, buf.Len())
}

func TestWriteFRC(t *testing.T) {
	curve := analysis.FRCCurve{
		Resolution: 50e-9,
		Q:          []float64{0, 5e5, 1e6, 1.5e6, 2e7, 2.5e7},
		C:          []float64{1, 0.9, 0.7, 0.4, 0.1, 0.05},
	}
	var buf bytes.Buffer
	require.NoError(t, NewImagePlotter().WriteFRC(&buf, "FRC", curve))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	err := NewImagePlotter().WriteFRC(&buf, "FRC", analysis.FRCCurve{})
	assert.True(t, errors.Is(err, analysis.ErrNoData))
}

func TestWriteDrift(t *testing.T) {
	d := &analysis.Drift{
		Time: []float64{0, 60, 120},
		TX:   []float64{-1, 0, 1},
		TY:   []float64{2, 0, -2},
	}
	var buf bytes.Buffer
	require.NoError(t, NewImagePlotter().WriteDrift(&buf, "drift", d))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, NewImagePlotter().WriteDrift(&buf, "drift", &analysis.Drift{}))
}

func TestWriteHistogram2D(t *testing.T) {
	h, err := analysis.Calculate2DHistogram(
		[]float64{40000, 41000, 52000, 60000},
		[]float64{0.1, 0.2, 0.2, 0.6},
		analysis.AxisBinning{BinSize: 5000},
		analysis.AxisBinning{Edges: []float64{0, 0.25, 0.5, 0.75}}, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewImagePlotter().WriteHistogram2D(&buf, "EFO vs CFR", "EFO (Hz)", "CFR", h))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	err = NewImagePlotter().WriteHistogram2D(&buf, "empty", "x", "y", analysis.Histogram2D{})
	assert.True(t, errors.Is(err, analysis.ErrNoData))
}
