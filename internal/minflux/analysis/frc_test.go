package analysis

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFTN_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	shape := []int{4, 3, 5}
	data := make([]complex128, 60)
	for i := range data {
		data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	orig := append([]complex128(nil), data...)

	fftN(data, shape, false)
	fftN(data, shape, true)
	for i := range data {
		assert.InDelta(t, 0, cmplx.Abs(data[i]-orig[i]), 1e-12, "element %d", i)
	}
}

func TestFFTN_Delta(t *testing.T) {
	data := make([]complex128, 12)
	data[0] = 1
	fftN(data, []int{4, 3}, false)
	for i, v := range data {
		assert.InDelta(t, 0, cmplx.Abs(v-1), 1e-12, "element %d", i)
	}
}

func TestFreqAndShiftIndex(t *testing.T) {
	var freqs, shifted []int
	for k := range 5 {
		freqs = append(freqs, freqIndex(k, 5))
		shifted = append(shifted, ifftShiftIndex(k, 5))
	}
	assert.Equal(t, []int{0, 1, 2, -2, -1}, freqs)
	assert.Equal(t, []int{2, 3, 4, 0, 1}, shifted)
	assert.Equal(t, []int{0, 1, -2, -1}, []int{freqIndex(0, 4), freqIndex(1, 4), freqIndex(2, 4), freqIndex(3, 4)})
}

func TestSavgolLinear_KeepsLines(t *testing.T) {
	y := make([]float64, 10)
	for i := range y {
		y[i] = 2*float64(i) + 1
	}
	assert.InDeltaSlice(t, y, savgolLinear(y, 7), 1e-9)
}

// clustered returns localizations scattered with sigma nm around random
// emitters in a square of the given side.
func clustered(rng *rand.Rand, emitters, perEmitter int, side, sigma float64) (x, y []float64) {
	for range emitters {
		cx, cy := rng.Float64()*side, rng.Float64()*side
		for range perEmitter {
			x = append(x, cx+sigma*rng.NormFloat64())
			y = append(y, cy+sigma*rng.NormFloat64())
		}
	}
	return x, y
}

func TestFourierRingCorrelation_Identical(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	x, y := clustered(rng, 100, 10, 3200, 5)
	r := Range{0, 3200}
	im, err := RenderXY(x, y, RenderOptions{SX: 50, SY: 50, RX: &r, RY: &r})
	require.NoError(t, err)
	require.Equal(t, 64, im.Nx)

	curve, err := FourierRingCorrelation(im, im, 50, 50)
	require.NoError(t, err)
	require.NotEmpty(t, curve.C)
	for k, c := range curve.C {
		assert.InDelta(t, 1, c, 1e-9, "ring %d", k)
	}
	assert.Equal(t, 0.0, curve.Q[0])
	assert.InDelta(t, 1/curve.Q[len(curve.Q)-1], curve.Resolution, 1e-15)
}

func TestFourierRingCorrelation_Errors(t *testing.T) {
	a := &Image{Nx: 2, Ny: 2, Pix: make([]float32, 4)}
	b := &Image{Nx: 3, Ny: 2, Pix: make([]float32, 6)}
	_, err := FourierRingCorrelation(a, b, 1, 1)
	assert.Error(t, err)

	small := &Image{Nx: 4, Ny: 4, Pix: make([]float32, 16)}
	small.Pix[5] = 1
	_, err = FourierRingCorrelation(small, small, 500, 500)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestEstimateResolutionByFRC_Seeded(t *testing.T) {
	x, y := clustered(rand.New(rand.NewPCG(7, 8)), 200, 20, 4000, 4)
	opts := func() FRCOptions {
		return FRCOptions{
			Reps:   3,
			Render: RenderOptions{SX: 20, SY: 20},
			Rand:   rand.New(rand.NewPCG(9, 10)),
		}
	}

	first, err := EstimateResolutionByFRC(x, y, opts())
	require.NoError(t, err)
	second, err := EstimateResolutionByFRC(x, y, opts())
	require.NoError(t, err)

	assert.Len(t, first.Resolutions, 3)
	assert.Equal(t, first.Resolutions, second.Resolutions)
	assert.Equal(t, first.Resolution, second.Resolution)
	assert.Greater(t, first.Resolution, 0.0)
	assert.False(t, math.IsInf(first.Resolution, 0))
	assert.Len(t, first.C, len(first.Q))
}

func TestEstimateResolutionByFRC_LengthMismatch(t *testing.T) {
	_, err := EstimateResolutionByFRC([]float64{1}, nil, FRCOptions{})
	assert.Error(t, err)
}
