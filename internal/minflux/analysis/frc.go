package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

const (
	// frcBinWidth is the width of the spatial frequency rings in 1/m.
	frcBinWidth = 5e5
	// frcThreshold is the correlation below which the signal is treated
	// as lost.
	frcThreshold = 1.0 / 7
	// frcSmoothing is the window of the linear Savitzky-Golay filter
	// applied to the correlation curve.
	frcSmoothing = 7
)

// FRCCurve is a Fourier ring correlation curve.
type FRCCurve struct {
	// Resolution is the estimated resolution in m.
	Resolution float64
	// Q holds the ring frequencies in 1/m and C the smoothed correlation
	// at each of them.
	Q, C []float64
}

// FourierRingCorrelation correlates two images of the same shape whose
// pixels measure sx by sy nm. Rings that no frequency falls into are
// left out of the curve. The resolution is the inverse of the first
// frequency at which the correlation drops below 1/7, or of the highest
// frequency analyzed when it never does.
func FourierRingCorrelation(a, b *Image, sx, sy float64) (FRCCurve, error) {
	if a.Nx != b.Nx || a.Ny != b.Ny {
		return FRCCurve{}, fmt.Errorf("images differ in shape: %dx%d and %dx%d", a.Nx, a.Ny, b.Nx, b.Ny)
	}
	nx, ny := a.Nx, a.Ny
	if nx == 0 || ny == 0 {
		return FRCCurve{}, ErrNoData
	}
	f1 := toComplex(a.Pix)
	f2 := toComplex(b.Pix)
	shape := []int{nx, ny}
	fftN(f1, shape, false)
	fftN(f2, shape, false)

	physX := float64(nx) * sx * 1e-9
	physY := float64(ny) * sy * 1e-9
	ring := make([]int, len(f1))
	maxRing := 0
	for r := 0; r < ny; r++ {
		qy := float64(freqIndex(r, ny)) / physY
		for c := 0; c < nx; c++ {
			qx := float64(freqIndex(c, nx)) / physX
			k := int(math.RoundToEven(math.Hypot(qx, qy) / frcBinWidth))
			ring[r*nx+c] = k
			maxRing = max(maxRing, k)
		}
	}

	cross := make([]complex128, maxRing+1)
	pow1 := make([]float64, maxRing+1)
	pow2 := make([]float64, maxRing+1)
	members := make([]int, maxRing+1)
	for i, k := range ring {
		members[k]++
		cross[k] += f1[i] * cmplx.Conj(f2[i])
		pow1[k] += real(f1[i] * cmplx.Conj(f1[i]))
		pow2[k] += real(f2[i] * cmplx.Conj(f2[i]))
	}

	qMax := float64(maxRing) * frcBinWidth
	var q, c []float64
	for k := range cross {
		qk := float64(k) * frcBinWidth
		if !(qk < 0.8*qMax) {
			break
		}
		if members[k] == 0 {
			continue
		}
		den := math.Sqrt(pow1[k] * pow2[k])
		ck := math.NaN()
		if den != 0 {
			ck = real(cross[k]) / den
		}
		q = append(q, qk)
		c = append(c, ck)
	}
	if len(c) < frcSmoothing {
		return FRCCurve{}, fmt.Errorf("%w: %d frequency rings, need %d; render a larger area", ErrNoData, len(c), frcSmoothing)
	}
	c = savgolLinear(c, frcSmoothing)

	critical := q[len(q)-1]
	for k, v := range c {
		if v < frcThreshold {
			critical = q[k]
			break
		}
	}
	return FRCCurve{Resolution: 1 / critical, Q: q, C: c}, nil
}

// savgolLinear smooths y with a first-order Savitzky-Golay filter of the
// given odd window. Inside, this is a moving average; within half a
// window of either end the values come from a line fitted to the first
// or last window.
func savgolLinear(y []float64, window int) []float64 {
	n := len(y)
	half := window / 2
	out := make([]float64, n)
	for i := half; i < n-half; i++ {
		s := 0.0
		for _, v := range y[i-half : i+half+1] {
			s += v
		}
		out[i] = s / float64(window)
	}
	pos := make([]float64, window)
	for i := range pos {
		pos[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(pos, y[:window], nil, false)
	for i := 0; i < half; i++ {
		out[i] = alpha + beta*float64(i)
	}
	alpha, beta = stat.LinearRegression(pos, y[n-window:], nil, false)
	for i := n - half; i < n; i++ {
		out[i] = alpha + beta*float64(i-(n-window))
	}
	return out
}

// FRCOptions configures EstimateResolutionByFRC.
type FRCOptions struct {
	// Reps is the number of random splits to average; 0 means 5.
	Reps int
	// Render describes the images; RX and RY default to the data extent.
	Render RenderOptions
	// Rand drives the random splits; nil seeds one from the runtime.
	Rand *rand.Rand
}

// FRCResult is the average of several FRC runs.
type FRCResult struct {
	FRCCurve
	// Resolutions holds the resolution of each run in m.
	Resolutions []float64
}

// EstimateResolutionByFRC splits the localizations (in nm) into two random
// halves, renders each and correlates them, Reps times. The curve and
// the resolution are averaged over the runs.
func EstimateResolutionByFRC(x, y []float64, opts FRCOptions) (FRCResult, error) {
	if len(x) != len(y) {
		return FRCResult{}, fmt.Errorf("x and y differ in length: %d != %d", len(x), len(y))
	}
	reps := opts.Reps
	if reps <= 0 {
		reps = 5
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	ro := opts.Render
	if ro.RX == nil || ro.RY == nil {
		rx, err := quantileRange(x, 0)
		if err != nil {
			return FRCResult{}, fmt.Errorf("x: %w", err)
		}
		ry, err := quantileRange(y, 0)
		if err != nil {
			return FRCResult{}, fmt.Errorf("y: %w", err)
		}
		ro.RX, ro.RY = &rx, &ry
	}

	var res FRCResult
	x1, y1 := make([]float64, 0, len(x)), make([]float64, 0, len(y))
	x2, y2 := make([]float64, 0, len(x)), make([]float64, 0, len(y))
	for range reps {
		x1, y1, x2, y2 = x1[:0], y1[:0], x2[:0], y2[:0]
		for i := range x {
			if rng.Float64() < 0.5 {
				x1, y1 = append(x1, x[i]), append(y1, y[i])
			} else {
				x2, y2 = append(x2, x[i]), append(y2, y[i])
			}
		}
		h1, err := RenderXY(x1, y1, ro)
		if err != nil {
			return FRCResult{}, err
		}
		h2, err := RenderXY(x2, y2, ro)
		if err != nil {
			return FRCResult{}, err
		}
		curve, err := FourierRingCorrelation(h1, h2, ro.SX, ro.SY)
		if err != nil {
			return FRCResult{}, err
		}
		res.Resolutions = append(res.Resolutions, curve.Resolution)
		if res.C == nil {
			res.Q = curve.Q
			res.C = make([]float64, len(curve.C))
		}
		for k, v := range curve.C {
			res.C[k] += v / float64(reps)
		}
	}
	res.Resolution = stat.Mean(res.Resolutions, nil)
	return res, nil
}
